// Package config parses the optional forge.yaml project overlay: a
// platform allowlist, log level, worker respawn backoff, and watch
// debounce interval layered on top of pipeline.json.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// overlayFile is the filename forge.yaml is expected under at a
// project's rootPath.
const overlayFile = "forge.yaml"

// WorkerRespawn overrides the Compiler Cache's crash-loop backoff.
type WorkerRespawn struct {
	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond"`
	Burst              int     `yaml:"burst"`
}

// WatchConfig overrides the filesystem watcher's debounce interval.
type WatchConfig struct {
	Debounce Duration `yaml:"debounce"`
}

// Duration wraps time.Duration so forge.yaml can spell it as "300ms"
// rather than a raw nanosecond count.
type Duration time.Duration

// UnmarshalYAML decodes a duration string via time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ProjectConfig is the decoded shape of forge.yaml.
type ProjectConfig struct {
	Platforms     []string      `yaml:"platforms"`
	LogLevel      string        `yaml:"logLevel"`
	WorkerRespawn WorkerRespawn `yaml:"workerRespawn"`
	Watch         WatchConfig   `yaml:"watch"`
}

// Load reads forge.yaml from projectRoot. A missing file is not an
// error — it returns the zero ProjectConfig, meaning every default
// applies. A malformed file is an error.
func Load(projectRoot string) (ProjectConfig, error) {
	path := filepath.Join(projectRoot, overlayFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProjectConfig{}, nil
		}
		return ProjectConfig{}, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ProjectConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// AllowsPlatform reports whether platformName is permitted under this
// config's allowlist. An empty (unset) Platforms list allows everything.
func (c ProjectConfig) AllowsPlatform(platformName string) bool {
	if len(c.Platforms) == 0 {
		return true
	}
	for _, p := range c.Platforms {
		if p == platformName {
			return true
		}
	}
	return false
}
