// Package sourcedb implements the Source Database: a persisted index of
// known source files with modification metadata, declared dependencies,
// and reverse references.
package sourcedb

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/forgekit/forge/internal/dbcore"
	"github.com/forgekit/forge/internal/forgeerr"
	"github.com/forgekit/forge/internal/resourcepath"
)

// Entry is one known source file, keyed by its path relative to the
// package source root.
type Entry struct {
	RelativePath string   `json:"relativePath"`
	ResourceName string   `json:"resourceName"`
	ResourceType string   `json:"resourceType"`
	Properties   []string `json:"properties"`
	Platform     string   `json:"platform"`

	// Dependencies holds absolute paths of sources this file's compiler
	// reads as inputs. References is the reverse link: absolute paths of
	// sources that depend on this one.
	Dependencies []string `json:"dependencies"`
	References   []string `json:"references"`

	WriteTime time.Time `json:"writeTime"`
	FileSize  int64     `json:"fileSize"`
}

// Key implements dbcore.Keyed.
func (e Entry) Key() string { return e.RelativePath }

// document is the on-disk JSON shape: {bundleName, entries}.
type document struct {
	BundleName string  `json:"bundleName"`
	Entries    []Entry `json:"entries"`
}

// Database is the persisted, in-memory index of a package's source tree.
type Database struct {
	BundleName string

	store *dbcore.Store[Entry]
}

// Load reads a Source Database from path. A missing file is not an
// error: Load returns an empty, dirty database in that case. Any other
// read failure is an IoError; malformed JSON is a FormatError.
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

	return &Database{BundleName: doc.BundleName, store: store}, nil
}

// Save serializes the database to path as {bundleName, entries}, with
// entries in stable key order so repeated saves of unchanged state are
// byte-identical. On success the dirty flag is cleared.
func (db *Database) Save(path string) error {
	doc := document{BundleName: db.BundleName, Entries: db.store.Entries()}

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

// Query looks up the entry for absPath (made relative to rootPath). Never
// returns an error — a miss is reported solely via the boolean.
func (db *Database) Query(rootPath, absPath string) (Entry, bool) {
	rel, err := filepath.Rel(rootPath, absPath)
	if err != nil {
		return Entry{}, false
	}
	return db.store.Get(rel)
}

// Create stats absPath, extracts resource metadata via the resource path
// parser, and inserts or overwrites the entry at its relative path. The
// entry's dependencies and references are reset to empty — the caller is
// responsible for repopulating dependencies after a successful build.
// declaredPlatforms is consulted to derive the Platform field from the
// parsed properties; pass nil to always derive "generic".
func (db *Database) Create(rootPath, absPath string, declaredPlatforms []string) (Entry, error) {
	rel, err := filepath.Rel(rootPath, absPath)
	if err != nil {
		return Entry{}, forgeerr.NewIoError("relativize", absPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return Entry{}, forgeerr.NewIoError("stat", absPath, err)
	}

	meta := resourcepath.Parse(absPath)

	entry := Entry{
		RelativePath: rel,
		ResourceName: meta.ResourceName,
		ResourceType: meta.ResourceType,
		Properties:   meta.Properties,
		Platform:     meta.Platform(declaredPlatforms),
		Dependencies: []string{},
		References:   []string{},
		WriteTime:    info.ModTime().Truncate(time.Millisecond),
		FileSize:     info.Size(),
	}

	db.store.Put(entry)
	return entry, nil
}

// Put overwrites (or inserts) an entry directly, e.g. to append a
// dependency or reference discovered after a build completes.
func (db *Database) Put(e Entry) { db.store.Put(e) }

// Remove deletes the entry for absPath, if any, and marks the database
// dirty. Reports whether an entry was removed.
func (db *Database) Remove(rootPath, absPath string) bool {
	rel, err := filepath.Rel(rootPath, absPath)
	if err != nil {
		return false
	}
	return db.store.Delete(rel)
}

// Stat describes the on-disk state of a source file, as consulted by
// change detection.
type Stat struct {
	WriteTime time.Time
	FileSize  int64
}

// StatFile stats absPath and returns its modification time (truncated to
// millisecond precision, matching the resolution Create persists) and
// size.
func StatFile(absPath string) (Stat, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return Stat{}, forgeerr.NewIoError("stat", absPath, err)
	}
	return Stat{WriteTime: info.ModTime().Truncate(time.Millisecond), FileSize: info.Size()}, nil
}

// Modified reports whether entry's recorded metadata diverges from stat,
// comparing the timestamp numerically rather than as formatted strings.
func Modified(entry Entry, stat Stat) bool {
	return !entry.WriteTime.Equal(stat.WriteTime) || entry.FileSize != stat.FileSize
}

// LogAttrs is a convenience for structured logging of an entry.
func (e Entry) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("relativePath", e.RelativePath),
		slog.String("resourceType", e.ResourceType),
		slog.String("platform", e.Platform),
	}
}
