package model

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/forgekit/forge/internal/forgeerr"
	"github.com/forgekit/forge/internal/sourcedb"
)

// sourceDirSuffix and targetDirSuffix name the on-disk directory
// conventions: "{packageName}.source" for sources, and
// "{packageName}.{platform}.target" for per-platform outputs.
const (
	sourceDirSuffix = ".source"
	targetDirSuffix = ".target"
)

// Package is a logical group of sources: it owns a Source Database and a
// set of Targets keyed by platform name.
type Package struct {
	ProjectName string
	PackageName string

	SourcePath   string
	DatabasePath string
	Database     *sourcedb.Database

	Targets map[string]*Target

	packageRoot  string
	databaseRoot string
}

// CreatePackage ensures the package's source directory exists and loads
// (or initializes) its Source Database.
func CreatePackage(packageRoot, databaseRoot, projectName, packageName string) (*Package, error) {
	sourcePath := filepath.Join(packageRoot, packageName+sourceDirSuffix)
	databasePath := filepath.Join(databaseRoot, packageName+".source.json")

	if err := os.MkdirAll(sourcePath, 0o755); err != nil {
		return nil, forgeerr.NewIoError("mkdir", sourcePath, err)
	}

	db, err := sourcedb.Load(databasePath)
	if err != nil {
		return nil, err
	}
	db.BundleName = packageName

	return &Package{
		ProjectName:  projectName,
		PackageName:  packageName,
		SourcePath:   sourcePath,
		DatabasePath: databasePath,
		Database:     db,
		Targets:      make(map[string]*Target),
		packageRoot:  packageRoot,
		databaseRoot: databaseRoot,
	}, nil
}

// TargetPlatform is get-or-insert: it returns the existing Target for
// platformName, creating it (and its on-disk directory/database) on first
// mention.
func (p *Package) TargetPlatform(platformName string) (*Target, error) {
	if platformName == "" {
		platformName = GenericPlatform
	}
	if t, ok := p.Targets[platformName]; ok {
		return t, nil
	}

	targetPath := filepath.Join(p.packageRoot, targetDirName(p.PackageName, platformName))
	databasePath := filepath.Join(p.databaseRoot, p.PackageName+"."+platformName+".target.json")

	t, err := CreateTarget(targetPath, databasePath, p.PackageName, platformName)
	if err != nil {
		return nil, err
	}
	p.Targets[platformName] = t
	return t, nil
}

// targetDirName builds "{packageName}.{platform}.target" — an
// empty/generic platform still gets its own named segment on disk; only
// the omitted-segment form collapses to GenericPlatform on read, in
// parseTargetDir.
func targetDirName(packageName, platformName string) string {
	return packageName + "." + platformName + targetDirSuffix
}

// CacheTargets enumerates directory entries under the package root at
// depth 1, interpreting any directory named "{packageName}.{platform}.target"
// as a Target to instantiate (GenericPlatform if the middle segment is
// absent, i.e. a bare "{packageName}.target"). A target directory naming a
// platform allowed rejects it by allowedPlatform (forge.yaml's platforms
// allowlist) is silently skipped — it is left on disk but never loaded as
// a Target, so a stale or foreign-platform directory can't be built
// against. A nil allowedPlatform allows everything.
func (p *Package) CacheTargets(allowedPlatform func(string) bool) error {
	entries, err := os.ReadDir(p.packageRoot)
	if err != nil {
		return forgeerr.NewIoError("readdir", p.packageRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		platform, ok := parseTargetDir(entry.Name(), p.PackageName)
		if !ok {
			continue
		}
		if allowedPlatform != nil && !allowedPlatform(platform) {
			continue
		}
		if _, err := p.TargetPlatform(platform); err != nil {
			return err
		}
	}
	return nil
}

// parseTargetDir reports whether dirName names a target directory for
// packageName, and if so its platform.
func parseTargetDir(dirName, packageName string) (platform string, ok bool) {
	if !strings.HasSuffix(dirName, targetDirSuffix) {
		return "", false
	}
	stem := strings.TrimSuffix(dirName, targetDirSuffix)

	if stem == packageName {
		return GenericPlatform, true
	}
	prefix := packageName + "."
	if !strings.HasPrefix(stem, prefix) {
		return "", false
	}
	platform = strings.TrimPrefix(stem, prefix)
	if platform == "" {
		return "", false
	}
	return platform, true
}
