// Package model implements the Project/Package/Target ownership hierarchy:
// the on-disk directory layout, lazy get-or-insert creation, and the
// deterministic target-path hash.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf16"

	"github.com/forgekit/forge/internal/forgeerr"
	"github.com/forgekit/forge/internal/targetdb"
)

// GenericPlatform is the reserved platform name used when a Target's
// directory name carries no explicit platform segment.
const GenericPlatform = "generic"

// Target is a per-package, per-platform output descriptor: it owns a
// Target Database and supplies the deterministic target-path mapping used
// to place every built resource under its output tree.
type Target struct {
	RootPath     string // absolute path to this target's output directory
	TargetPath   string // same as RootPath; kept as its own field for callers that think in target-path terms
	PackageName  string
	PlatformName string

	Database     *targetdb.Database
	DatabasePath string
}

// CreateTarget ensures targetPath exists on disk and loads (or
// initializes) its Target Database. An empty platformName is normalized
// to GenericPlatform.
func CreateTarget(targetPath, databasePath, packageName, platformName string) (*Target, error) {
	if platformName == "" {
		platformName = GenericPlatform
	}

	if err := os.MkdirAll(targetPath, 0o755); err != nil {
		return nil, forgeerr.NewIoError("mkdir", targetPath, err)
	}

	db, err := targetdb.Load(databasePath)
	if err != nil {
		return nil, err
	}
	db.BundleName = packageName
	db.Platform = platformName

	return &Target{
		RootPath:     targetPath,
		TargetPath:   targetPath,
		PackageName:  packageName,
		PlatformName: platformName,
		Database:     db,
		DatabasePath: databasePath,
	}, nil
}

// TargetPathFor computes the deterministic filename stem for resourceName
// under t.TargetPath: a rotating 32-bit hash of the UTF-16 code unit
// sequence, formatted as lowercase hex. The compiler worker appends the
// resource's extension; this function never does.
//
// The hash is defined on UTF-16 code units, not UTF-8 bytes: iterate
// unicode/utf16.Encode of the rune slice, never the raw byte string, or
// any resource name outside the ASCII range hashes differently.
func (t *Target) TargetPathFor(resourceName string) string {
	return filepath.Join(t.TargetPath, HashResourceName(resourceName))
}

// HashResourceName is the deterministic rotating hash at the core of
// TargetPathFor, split out so it can be tested directly.
//
// h = (h << 7) + (h >> 25) + ch, per UTF-16 code unit, computed in Go's
// uint32 so the shift-and-add wraps mod 2^32 and >> is a logical,
// zero-fill shift.
func HashResourceName(resourceName string) string {
	var h uint32
	for _, cu := range utf16.Encode([]rune(resourceName)) {
		h = (h << 7) + (h >> 25) + uint32(cu)
	}
	return fmt.Sprintf("%x", h)
}
