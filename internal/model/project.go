package model

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/forgekit/forge/internal/forgeerr"
	"github.com/forgekit/forge/internal/pipeline"
)

// Project is a container of Packages plus a pipeline definition mapping
// resource types to compiler definitions.
type Project struct {
	ProjectName string
	RootPath    string

	PackageRoot   string
	DatabaseRoot  string
	ProcessorRoot string
	PipelinePath  string

	Pipeline pipeline.Definition
	Packages map[string]*Package
}

// CreateProject computes rootPath = join(projectRoot, projectName),
// creates the processors/, packages/, database/ subdirectories if
// missing, and loads pipeline.json (an empty mapping if absent).
func CreateProject(projectRoot, projectName string) (*Project, error) {
	rootPath := filepath.Join(projectRoot, projectName)

	packageRoot := filepath.Join(rootPath, "packages")
	databaseRoot := filepath.Join(rootPath, "database")
	processorRoot := filepath.Join(rootPath, "processors")
	pipelinePath := filepath.Join(rootPath, "pipeline.json")

	for _, dir := range []string{packageRoot, databaseRoot, processorRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, forgeerr.NewIoError("mkdir", dir, err)
		}
	}

	def, err := pipeline.Load(pipelinePath)
	if err != nil {
		return nil, err
	}

	return &Project{
		ProjectName:   projectName,
		RootPath:      rootPath,
		PackageRoot:   packageRoot,
		DatabaseRoot:  databaseRoot,
		ProcessorRoot: processorRoot,
		PipelinePath:  pipelinePath,
		Pipeline:      def,
		Packages:      make(map[string]*Package),
	}, nil
}

// ContentPackage is get-or-insert: it returns the existing Package named
// packageName, creating it on first mention.
func (p *Project) ContentPackage(packageName string) (*Package, error) {
	if pkg, ok := p.Packages[packageName]; ok {
		return pkg, nil
	}

	pkg, err := CreatePackage(p.PackageRoot, p.DatabaseRoot, p.ProjectName, packageName)
	if err != nil {
		return nil, err
	}
	p.Packages[packageName] = pkg
	return pkg, nil
}

// CachePackages enumerates directory entries under packageRoot at depth
// 1, interpreting any directory "{name}.source" as a Package to
// instantiate, then invokes CacheTargets on each. allowedPlatform is
// forge.yaml's platforms allowlist (config.ProjectConfig.AllowsPlatform);
// a nil allowedPlatform allows everything.
func (p *Project) CachePackages(allowedPlatform func(string) bool) error {
	entries, err := os.ReadDir(p.PackageRoot)
	if err != nil {
		return forgeerr.NewIoError("readdir", p.PackageRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), sourceDirSuffix) {
			continue
		}
		packageName := strings.TrimSuffix(entry.Name(), sourceDirSuffix)
		if packageName == "" {
			continue
		}

		pkg, err := p.ContentPackage(packageName)
		if err != nil {
			return err
		}
		if err := pkg.CacheTargets(allowedPlatform); err != nil {
			return err
		}
	}
	return nil
}
