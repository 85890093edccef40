// Package targetdb implements the Target Database: a persisted index of
// produced target resources with compiler identity and output file list.
package targetdb

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/forgekit/forge/internal/dbcore"
	"github.com/forgekit/forge/internal/forgeerr"
	"github.com/forgekit/forge/internal/resourcepath"
)

// Entry is one successful build output-group, keyed by the target-relative
// path of the target resource.
type Entry struct {
	RelativePath string   `json:"relativePath"`
	ResourceName string   `json:"resourceName"`
	ResourceType string   `json:"resourceType"`
	Platform     string   `json:"platform"`

	// SourcePath is relative to the package source root, not the target
	// root. Create always takes an already-source-root-relative path from
	// the caller; it never rewrites or reroots it.
	SourcePath string `json:"sourcePath"`

	CompilerName    string   `json:"compilerName"`
	CompilerVersion int      `json:"compilerVersion"`
	Outputs         []string `json:"outputs"`
}

// Key implements dbcore.Keyed.
func (e Entry) Key() string { return e.RelativePath }

// document is the on-disk JSON shape: {bundleName, platform, entries}.
type document struct {
	BundleName string  `json:"bundleName"`
	Platform   string  `json:"platform"`
	Entries    []Entry `json:"entries"`
}

// Database is the persisted, in-memory index of a target's produced
// outputs.
type Database struct {
	BundleName string
	Platform   string

	store *dbcore.Store[Entry]
}

// Load reads a Target Database from path. A missing file is not an error:
// it returns an empty, dirty database.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Database{store: dbcore.NewStore[Entry]()}, nil
		}
		return nil, forgeerr.NewIoError("read", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, forgeerr.NewFormatError(path, err)
	}

	store := dbcore.NewStore[Entry]()
	store.Replace(doc.Entries)
	store.MarkClean()

	return &Database{BundleName: doc.BundleName, Platform: doc.Platform, store: store}, nil
}

// Save serializes the database to path, clearing dirty on success.
func (db *Database) Save(path string) error {
	doc := document{BundleName: db.BundleName, Platform: db.Platform, Entries: db.store.Entries()}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return forgeerr.NewFormatError(path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return forgeerr.NewIoError("mkdir", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return forgeerr.NewIoError("write", path, err)
	}

	db.store.MarkClean()
	return nil
}

// Dirty reports whether in-memory state diverges from the last save.
func (db *Database) Dirty() bool { return db.store.Dirty() }

// Entries returns all entries in stable key order.
func (db *Database) Entries() []Entry { return db.store.Entries() }

// Query looks up the entry for a target-root-relative targetPath.
func (db *Database) Query(targetRelativePath string) (Entry, bool) {
	return db.store.Get(targetRelativePath)
}

// Create inserts or overwrites the entry for a built resource. targetPath
// is relative to the target root (the stem from Target.TargetPathFor made
// relative, plus the resource type extension); sourcePath must already be relative
// to the package source root.
func (db *Database) Create(targetPath, resourceName, sourcePath, platform, compilerName string, compilerVersion int, outputs []string) Entry {
	meta := resourcepath.Parse(targetPath)

	entry := Entry{
		RelativePath:    targetPath,
		ResourceName:    resourceName,
		ResourceType:    meta.ResourceType,
		Platform:        platform,
		SourcePath:      sourcePath,
		CompilerName:    compilerName,
		CompilerVersion: compilerVersion,
		Outputs:         outputs,
	}

	db.store.Put(entry)
	return entry
}

// Remove deletes the entry for targetRelativePath, if any, and marks the
// database dirty. Reports whether an entry was removed.
func (db *Database) Remove(targetRelativePath string) bool {
	return db.store.Delete(targetRelativePath)
}

// OutputsExist reports whether every path in entry.Outputs exists on the
// filesystem. Used by change detection's buildOutputsExist.
func OutputsExist(entry Entry) bool {
	for _, p := range entry.Outputs {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
