// Package build implements the Builder: change detection and the
// project/package orchestration loop that ties the Source/Target
// Databases to the Compiler Cache.
package build

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maruel/ksid"

	"github.com/forgekit/forge/internal/cache"
	"github.com/forgekit/forge/internal/event"
	"github.com/forgekit/forge/internal/model"
	"github.com/forgekit/forge/internal/sourcedb"
	"github.com/forgekit/forge/internal/targetdb"
)

// Builder drives a single buildProject invocation end to end.
type Builder struct {
	Bus *event.Bus
	Log *slog.Logger

	// DeclaredPlatforms scopes which filename properties are treated as
	// platform tags rather than arbitrary properties. An empty list means
	// every file is "generic".
	DeclaredPlatforms []string

	// RespawnLimits tunes the Compiler Cache's crash-loop backoff. The
	// zero value falls back to the Cache package's own defaults.
	RespawnLimits cache.RespawnLimits
}

// New returns a Builder emitting on bus.
func New(bus *event.Bus, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{Bus: bus, Log: log}
}

// packageState tracks the in-flight bookkeeping buildPackage needs across
// its synchronous file walk and the Cache completion events it triggers.
type packageState struct {
	pendingFiles   int
	errorCount     int
	submitComplete bool
}

// BuildProject creates a Compiler Cache, and for every package in the
// project runs buildPackage against targetPlatform (empty meaning the
// generic build).
func (b *Builder) BuildProject(ctx context.Context, project *model.Project, targetPlatform string) error {
	runID := ksid.NewID()
	b.Bus.Emit(event.Event{Kind: event.KindProjectStarted, RunID: runID})

	c := cache.New(project.ProcessorRoot, project.Pipeline, b.Bus, b.RespawnLimits, b.Log)
	if err := c.Start(ctx); err != nil {
		return err
	}

	if len(project.Packages) == 0 {
		c.Shutdown()
		b.Bus.Emit(event.Event{Kind: event.KindProjectComplete, RunID: runID})
		return nil
	}

	pendingPackages := len(project.Packages)

	names := make([]string, 0, len(project.Packages))
	for name := range project.Packages {
		names = append(names, name)
	}

	for _, name := range names {
		if _, err := b.buildPackage(ctx, project, c, name, targetPlatform, runID); err != nil {
			return err
		}
		pendingPackages--
	}

	if pendingPackages == 0 {
		c.Shutdown()
		b.Bus.Emit(event.Event{Kind: event.KindProjectComplete, RunID: runID})
	}
	return nil
}

// buildPackage gets or creates the Package and its Target, walks the
// source tree, submits changed files to the Cache, and persists dirty
// databases once every submission has been accounted for.
func (b *Builder) buildPackage(ctx context.Context, project *model.Project, c *cache.Cache, packageName, targetPlatform string, runID ksid.ID) (int, error) {
	pkg, err := project.ContentPackage(packageName)
	if err != nil {
		return 0, err
	}
	target, err := pkg.TargetPlatform(targetPlatform)
	if err != nil {
		return 0, err
	}

	b.Bus.Emit(event.Event{Kind: event.KindPackageStarted, RunID: runID, Package: packageName})

	state := &packageState{}

	err = walkSourceTree(pkg.SourcePath, func(absPath string) error {
		// oldEntry carries the last build's recorded writeTime/fileSize and
		// dependencies — it must be read before Create refreshes the Source
		// DB entry to the file's current disk state, or every change-detection
		// comparison below would trivially compare the file against itself.
		oldEntry, hadOld := pkg.Database.Query(pkg.SourcePath, absPath)

		entry, err := pkg.Database.Create(pkg.SourcePath, absPath, b.DeclaredPlatforms)
		if err != nil {
			return err
		}
		if hadOld {
			entry.Dependencies = oldEntry.Dependencies
			entry.References = oldEntry.References
			pkg.Database.Put(entry)
		}

		if entry.Platform != target.PlatformName {
			b.Bus.Emit(event.Event{Kind: event.KindFileSkipped, RunID: runID, Package: packageName, SourcePath: entry.RelativePath, Reason: "platform mismatch"})
			return nil
		}

		// targetPath is the extension-less stem sent over IPC (the Worker
		// appends .resourceType to each output path itself); targetRelPath is
		// the same stem plus extension, used as the Target DB key so
		// resourcepath.Parse recovers the right resourceType on reload.
		targetPath := target.TargetPathFor(entry.ResourceName)
		targetStemRel, relErr := filepath.Rel(target.TargetPath, targetPath)
		if relErr != nil {
			targetStemRel = targetPath
		}
		targetRelPath := targetStemRel + "." + entry.ResourceType

		if !hadOld || RequiresRebuild(pkg, target, targetRelPath, oldEntry) {
			if _, ok := project.Pipeline[entry.ResourceType]; !ok {
				b.Bus.Emit(event.Event{Kind: event.KindFileSkipped, RunID: runID, Package: packageName, SourcePath: entry.RelativePath, Reason: "no compiler"})
				return nil
			}
			state.pendingFiles++
			b.submitAndApply(ctx, c, pkg, target, entry, targetPath, targetRelPath, targetPlatform, runID, state)
		} else {
			b.Bus.Emit(event.Event{Kind: event.KindFileSkipped, RunID: runID, Package: packageName, SourcePath: entry.RelativePath, Reason: "up to date"})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	state.submitComplete = true

	if state.pendingFiles == 0 {
		b.finishPackage(pkg, target, packageName, state, runID)
	}

	return state.errorCount, nil
}

// submitAndApply submits one file to the Cache and applies its Result to
// the Source/Target Databases synchronously: the only suspension point is
// the I/O-bound wait on the Cache's reply, never concurrent mutation.
func (b *Builder) submitAndApply(ctx context.Context, c *cache.Cache, pkg *model.Package, target *model.Target, entry sourcedb.Entry, targetPath, targetRelPath, platform string, runID ksid.ID, state *packageState) {
	b.Bus.Emit(event.Event{Kind: event.KindFileStarted, RunID: runID, Package: pkg.PackageName, SourcePath: entry.RelativePath})

	result := c.Build(ctx, cache.Input{
		Bundle:       pkg.PackageName,
		Target:       target.PlatformName,
		SourcePath:   entry.RelativePath,
		TargetPath:   targetPath,
		ResourceName: entry.ResourceName,
		ResourceType: entry.ResourceType,
		Platform:     platform,
	})

	if result.Success {
		for _, refAbsPath := range result.References {
			oldRef, hadOldRef := pkg.Database.Query(pkg.SourcePath, refAbsPath)
			refEntry, err := pkg.Database.Create(pkg.SourcePath, refAbsPath, b.DeclaredPlatforms)
			if err != nil {
				continue
			}
			if hadOldRef {
				refEntry.Dependencies = oldRef.Dependencies
				refEntry.References = oldRef.References
			}
			refEntry.References = appendUnique(refEntry.References, absPathOf(pkg.SourcePath, entry.RelativePath))
			pkg.Database.Put(refEntry)
			entry.Dependencies = appendUnique(entry.Dependencies, refAbsPath)
		}
		pkg.Database.Put(entry)

		target.Database.Create(targetRelPath, entry.ResourceName, entry.RelativePath, target.PlatformName, entry.ResourceType, result.CompilerVersion, result.Outputs)
		b.Bus.Emit(event.Event{Kind: event.KindFileSuccess, RunID: runID, Package: pkg.PackageName, SourcePath: entry.RelativePath})
	} else {
		state.errorCount++
		b.Bus.Emit(event.Event{Kind: event.KindFileError, RunID: runID, Package: pkg.PackageName, SourcePath: entry.RelativePath, Errors: result.Errors})
	}

	state.pendingFiles--
	if state.submitComplete && state.pendingFiles == 0 {
		b.finishPackage(pkg, target, pkg.PackageName, state, runID)
	}
}

func (b *Builder) finishPackage(pkg *model.Package, target *model.Target, packageName string, state *packageState, runID ksid.ID) {
	if pkg.Database.Dirty() {
		if err := pkg.Database.Save(pkg.DatabasePath); err != nil {
			b.Log.Error("failed to save source database", "package", packageName, "error", err)
		}
	}
	if target.Database.Dirty() {
		if err := target.Database.Save(target.DatabasePath); err != nil {
			b.Log.Error("failed to save target database", "package", packageName, "error", err)
		}
	}

	b.Bus.Emit(event.Event{Kind: event.KindPackageComplete, RunID: runID, Package: packageName, ErrorCount: state.errorCount})
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func absPathOf(sourceRoot, relPath string) string {
	return filepath.Join(sourceRoot, relPath)
}

// RequiresRebuild reports whether entry needs rebuilding: true if any of
// its dependencies changed, or if its prior build outputs are missing.
func RequiresRebuild(pkg *model.Package, target *model.Target, targetRelPath string, entry sourcedb.Entry) bool {
	if DependenciesModified(pkg, entry, make(map[string]bool)) {
		return true
	}
	return !BuildOutputsExist(target, targetRelPath)
}

// SourceFileModified is a thin re-export of sourcedb.Modified, which
// already performs the numeric (not string) writeTime/fileSize
// comparison.
func SourceFileModified(entry sourcedb.Entry, stat sourcedb.Stat) bool {
	return sourcedb.Modified(entry, stat)
}

// DependenciesModified walks entry.Dependencies depth-first, looking for
// any dependency whose own file or dependencies changed. visited guards
// against dependency cycles: a revisited entry is treated as "not
// modified by this path" so the walk always terminates.
func DependenciesModified(pkg *model.Package, entry sourcedb.Entry, visited map[string]bool) bool {
	if visited[entry.RelativePath] {
		return false
	}
	visited[entry.RelativePath] = true

	stat, err := sourcedb.StatFile(absPathOf(pkg.SourcePath, entry.RelativePath))
	if err != nil {
		return true // any I/O error forces a rebuild
	}
	if SourceFileModified(entry, stat) {
		return true
	}

	for _, depAbsPath := range entry.Dependencies {
		depEntry, ok := pkg.Database.Query(pkg.SourcePath, depAbsPath)
		if !ok {
			return true
		}
		if DependenciesModified(pkg, depEntry, visited) {
			return true
		}
	}
	return false
}

// BuildOutputsExist reports whether targetRelPath's recorded outputs are
// all still present on disk. Absent a Target DB entry there is nothing to
// verify, so the build is considered up to date from this check's
// perspective — the real trigger for a fresh file is buildPackage's own
// check for a missing prior Source DB entry.
func BuildOutputsExist(target *model.Target, targetRelPath string) bool {
	entry, ok := target.Database.Query(targetRelPath)
	if !ok {
		return true
	}
	return targetdb.OutputsExist(entry)
}

// walkSourceTree synchronously walks root recursively, ignoring hidden
// files and directories, invoking fn for every regular file found.
func walkSourceTree(root string, fn func(absPath string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		return fn(path)
	})
}
