// Package main is the entry point for forge, the incremental content
// build pipeline's driver. It is deliberately thin: the engine lives in
// internal/, and this binary exists only so it is exercisable end to
// end from a shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/forgekit/forge/internal/build"
	"github.com/forgekit/forge/internal/cache"
	"github.com/forgekit/forge/internal/config"
	"github.com/forgekit/forge/internal/event"
	"github.com/forgekit/forge/internal/model"
	"github.com/forgekit/forge/internal/watch"
)

// errProjectNotFound is wrapped into mainImpl's returned error when
// --project names a directory that does not already exist.
var errProjectNotFound = errors.New("project not found")

func main() {
	err := mainImpl()
	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, errProjectNotFound):
		fmt.Fprintf(os.Stderr, "forge: %v\n", err)
		os.Exit(2)
	case errors.Is(err, context.Canceled):
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "forge: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	projectPath := flag.String("project", "", "Path to the project root (required)")
	platform := flag.String("platform", "", "Target platform to build (empty means the generic build)")
	silent := flag.Bool("silent", false, "Suppress info-level logging")
	watchFlag := flag.Bool("watch", false, "Keep running, rebuilding on debounced filesystem changes")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}
	if *projectPath == "" {
		return errors.New("--project is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	if *silent {
		ll.Set(slog.LevelWarn)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	absPath, err := filepath.Abs(*projectPath)
	if err != nil {
		return err
	}
	if info, statErr := os.Stat(absPath); statErr != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", errProjectNotFound, absPath)
	}

	projectRoot, projectName := filepath.Dir(absPath), filepath.Base(absPath)
	project, err := model.CreateProject(projectRoot, projectName)
	if err != nil {
		return err
	}

	cfg, err := config.Load(project.RootPath)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" && !*silent {
		if err := ll.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			logger.Warn("ignoring invalid forge.yaml logLevel", "value", cfg.LogLevel)
		}
	}

	if err := project.CachePackages(cfg.AllowsPlatform); err != nil {
		return err
	}

	bus := event.NewBus()
	logEvents(bus, logger)

	b := &build.Builder{
		Bus:               bus,
		Log:               logger,
		DeclaredPlatforms: cfg.Platforms,
		RespawnLimits: cache.RespawnLimits{
			RatePerSecond: cfg.WorkerRespawn.RateLimitPerSecond,
			Burst:         cfg.WorkerRespawn.Burst,
		},
	}

	if err := b.BuildProject(ctx, project, *platform); err != nil {
		return err
	}
	if !*watchFlag {
		return nil
	}

	return runWatch(ctx, project, b, cfg, *platform, logger)
}

// logEvents wires a Bus to structured log lines, giving a human a visible
// build trace without the caller needing to inspect events directly.
func logEvents(bus *event.Bus, logger *slog.Logger) {
	bus.On(event.KindProjectStarted, func(ev event.Event) { logger.Info("project started", "runID", ev.RunID) })
	bus.On(event.KindPackageStarted, func(ev event.Event) { logger.Info("package started", "package", ev.Package) })
	bus.On(event.KindFileStarted, func(ev event.Event) { logger.Debug("file started", "package", ev.Package, "source", ev.SourcePath) })
	bus.On(event.KindFileSkipped, func(ev event.Event) {
		logger.Debug("file skipped", "package", ev.Package, "source", ev.SourcePath, "reason", ev.Reason)
	})
	bus.On(event.KindFileSuccess, func(ev event.Event) { logger.Info("file built", "package", ev.Package, "source", ev.SourcePath) })
	bus.On(event.KindFileError, func(ev event.Event) {
		logger.Error("file failed", "package", ev.Package, "source", ev.SourcePath, "errors", ev.Errors)
	})
	bus.On(event.KindPackageComplete, func(ev event.Event) {
		logger.Info("package complete", "package", ev.Package, "errorCount", ev.ErrorCount)
	})
	bus.On(event.KindProjectComplete, func(ev event.Event) { logger.Info("project complete", "runID", ev.RunID) })
}

// runWatch rebuilds packageName's whole project on every debounced
// filesystem event until ctx is canceled.
func runWatch(ctx context.Context, project *model.Project, b *build.Builder, cfg config.ProjectConfig, platform string, logger *slog.Logger) error {
	roots := make(map[string]string, len(project.Packages))
	for name, pkg := range project.Packages {
		roots[name] = pkg.SourcePath
	}

	sw, err := watch.NewFSNotifyWatcher(roots, time.Duration(cfg.Watch.Debounce), logger)
	if err != nil {
		return err
	}
	defer sw.Close()

	logger.Info("watching for changes", "packages", len(roots))
	watch.RunLoop(ctx, sw, logger, func(ctx context.Context, packageName string) error {
		return b.BuildProject(ctx, project, platform)
	})
	return nil
}
