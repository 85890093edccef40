package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateProjectMakesLayout(t *testing.T) {
	root := t.TempDir()

	proj, err := CreateProject(root, "mygame")
	if err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{proj.PackageRoot, proj.DatabaseRoot, proj.ProcessorRoot} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%q not created as directory", dir)
		}
	}
	if len(proj.Pipeline) != 0 {
		t.Errorf("Pipeline = %v, want empty for missing pipeline.json", proj.Pipeline)
	}
}

func TestContentPackageGetOrInsert(t *testing.T) {
	proj, err := CreateProject(t.TempDir(), "mygame")
	if err != nil {
		t.Fatal(err)
	}

	a, err := proj.ContentPackage("foo")
	if err != nil {
		t.Fatal(err)
	}
	b, err := proj.ContentPackage("foo")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("ContentPackage should return the same Package instance on repeat calls")
	}
}

func TestCachePackagesDiscoversExistingDirs(t *testing.T) {
	root := t.TempDir()
	proj, err := CreateProject(root, "mygame")
	if err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Join(proj.PackageRoot, "foo.source"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(proj.PackageRoot, "foo.ios.target"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := proj.CachePackages(nil); err != nil {
		t.Fatal(err)
	}

	pkg, ok := proj.Packages["foo"]
	if !ok {
		t.Fatal("CachePackages did not discover foo.source")
	}
	if _, ok := pkg.Targets["ios"]; !ok {
		t.Error("CachePackages did not cascade into CacheTargets for foo")
	}
}

func TestCachePackagesHonorsPlatformAllowlist(t *testing.T) {
	root := t.TempDir()
	proj, err := CreateProject(root, "mygame")
	if err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Join(proj.PackageRoot, "foo.source"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(proj.PackageRoot, "foo.ios.target"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(proj.PackageRoot, "foo.windows.target"), 0o755); err != nil {
		t.Fatal(err)
	}

	allow := func(platform string) bool { return platform == "ios" }
	if err := proj.CachePackages(allow); err != nil {
		t.Fatal(err)
	}

	pkg := proj.Packages["foo"]
	if _, ok := pkg.Targets["ios"]; !ok {
		t.Error("CachePackages should have loaded the allowed ios target")
	}
	if _, ok := pkg.Targets["windows"]; ok {
		t.Error("CachePackages should have rejected the disallowed windows target")
	}
}
