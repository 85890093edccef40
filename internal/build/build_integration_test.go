package build

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/forgekit/forge/internal/event"
	"github.com/forgekit/forge/internal/model"
	"github.com/forgekit/forge/internal/pipeline"
)

// fakeCopyCompiler writes a persistent-mode compiler that, on each
// BUILD_REQUEST, touches "<targetPath>.txt" and replies success with that
// path listed as the sole output — a stand-in for a trivial copy compiler.
func fakeCopyCompiler(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler script is POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "copy-compiler.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"type":0'*)
      printf '{"type":1,"data":{"version":1}}\n'
      ;;
    *'"type":2'*)
      src=$(printf '%s' "$line" | sed -n 's/.*"sourcePath":"\([^"]*\)".*/\1/p')
      tgt=$(printf '%s' "$line" | sed -n 's/.*"targetPath":"\([^"]*\)".*/\1/p')
      plat=$(printf '%s' "$line" | sed -n 's/.*"platform":"\([^"]*\)".*/\1/p')
      touch "${tgt}.txt"
      printf '{"type":3,"data":{"sourcePath":"%s","targetPath":"%s","platform":"%s","success":true,"errors":[],"outputs":["%s.txt"],"references":[]}}\n' "$src" "$tgt" "$plat" "$tgt"
      ;;
  esac
done
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func setupProject(t *testing.T, script string) *model.Project {
	t.Helper()
	root := t.TempDir()
	proj, err := model.CreateProject(root, "game")
	if err != nil {
		t.Fatal(err)
	}
	proj.Pipeline = pipeline.Definition{
		"txt": pipeline.CompilerDef{Executable: "/bin/sh", Args: []string{script}},
	}

	pkg, err := proj.ContentPackage("foo")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkg.SourcePath, "bar.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	return proj
}

// collectEvents wires a Bus that records every Kind's Events in emission
// order.
func collectEvents(bus *event.Bus) *[]event.Event {
	var got []event.Event
	record := func(ev event.Event) { got = append(got, ev) }
	for _, k := range []event.Kind{
		event.KindReady, event.KindProjectStarted, event.KindProjectComplete,
		event.KindPackageStarted, event.KindPackageComplete,
		event.KindFileStarted, event.KindFileSkipped, event.KindFileSuccess, event.KindFileError,
		event.KindTerminated,
	} {
		bus.On(k, record)
	}
	return &got
}

func kindsOf(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

// TestFreshBuildScenario covers a fresh build of one file through a copy
// compiler: it produces started/success events in walk order and a
// Source DB entry for bar.txt afterward.
func TestFreshBuildScenario(t *testing.T) {
	script := fakeCopyCompiler(t)
	proj := setupProject(t, script)

	bus := event.NewBus()
	events := collectEvents(bus)
	b := New(bus, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.BuildProject(ctx, proj, ""); err != nil {
		t.Fatalf("BuildProject() error = %v", err)
	}

	kinds := kindsOf(*events)
	mustContainInOrder(t, kinds, []event.Kind{
		event.KindReady,
		event.KindPackageStarted,
		event.KindFileStarted,
		event.KindFileSuccess,
		event.KindPackageComplete,
		event.KindProjectComplete,
	})

	pkg := proj.Packages["foo"]
	if _, ok := pkg.Database.Query(pkg.SourcePath, filepath.Join(pkg.SourcePath, "bar.txt")); !ok {
		t.Error("Source DB has no entry for bar.txt after a fresh build")
	}
}

// TestIncrementalNoOpScenario covers rerunning a fresh build with no
// source changes: it produces no file:started/file:success events, only
// file:skipped{reason: "up to date"}.
func TestIncrementalNoOpScenario(t *testing.T) {
	script := fakeCopyCompiler(t)
	proj := setupProject(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := New(event.NewBus(), nil)
	if err := first.BuildProject(ctx, proj, ""); err != nil {
		t.Fatalf("first BuildProject() error = %v", err)
	}

	bus := event.NewBus()
	events := collectEvents(bus)
	second := New(bus, nil)
	if err := second.BuildProject(ctx, proj, ""); err != nil {
		t.Fatalf("second BuildProject() error = %v", err)
	}

	for _, ev := range *events {
		if ev.Kind == event.KindFileStarted || ev.Kind == event.KindFileSuccess {
			t.Errorf("unexpected %s event on a no-op rebuild", ev.Kind)
		}
	}

	var sawSkip bool
	for _, ev := range *events {
		if ev.Kind == event.KindFileSkipped && ev.Reason == "up to date" {
			sawSkip = true
		}
	}
	if !sawSkip {
		t.Error("expected a file:skipped{reason: up to date} event on the no-op rebuild")
	}
}

// fakeRefCompiler writes a persistent-mode compiler that, on each
// BUILD_REQUEST, touches "<targetPath>.txt" and reports depAbsPath as a
// reference — a stand-in for a compiler that reads a second file (e.g. an
// #include) while producing its output.
func fakeRefCompiler(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler script is POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ref-compiler.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"type":0'*)
      printf '{"type":1,"data":{"version":1}}\n'
      ;;
    *'"type":2'*)
      src=$(printf '%s' "$line" | sed -n 's/.*"sourcePath":"\([^"]*\)".*/\1/p')
      tgt=$(printf '%s' "$line" | sed -n 's/.*"targetPath":"\([^"]*\)".*/\1/p')
      plat=$(printf '%s' "$line" | sed -n 's/.*"platform":"\([^"]*\)".*/\1/p')
      touch "${tgt}.txt"
      printf '{"type":3,"data":{"sourcePath":"%s","targetPath":"%s","platform":"%s","success":true,"errors":[],"outputs":["%s.txt"],"references":["%s"]}}\n' "$src" "$tgt" "$plat" "$tgt" "$DEP_ABS"
      ;;
  esac
done
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDependencyInvalidationScenario covers touching a dependency a
// prior build recorded via "references": it forces the dependent file to
// rebuild even though that file is itself unchanged.
func TestDependencyInvalidationScenario(t *testing.T) {
	root := t.TempDir()
	proj, err := model.CreateProject(root, "game")
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := proj.ContentPackage("foo")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkg.SourcePath, "bar.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	depAbsPath := filepath.Join(pkg.SourcePath, "baz.dep")
	if err := os.WriteFile(depAbsPath, []byte("dep-v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	script := fakeRefCompiler(t)
	proj.Pipeline = pipeline.Definition{
		"txt": pipeline.CompilerDef{
			Executable: "/bin/sh",
			Args:       []string{script},
			Env:        map[string]string{"DEP_ABS": depAbsPath, "PATH": os.Getenv("PATH")},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := New(event.NewBus(), nil)
	if err := first.BuildProject(ctx, proj, ""); err != nil {
		t.Fatalf("first BuildProject() error = %v", err)
	}

	// Touch the dependency only; bar.txt itself is untouched.
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(depAbsPath, later, later); err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus()
	events := collectEvents(bus)
	second := New(bus, nil)
	if err := second.BuildProject(ctx, proj, ""); err != nil {
		t.Fatalf("second BuildProject() error = %v", err)
	}

	var sawStart, sawSuccess bool
	for _, ev := range *events {
		if ev.Kind == event.KindFileStarted && ev.SourcePath == "bar.txt" {
			sawStart = true
		}
		if ev.Kind == event.KindFileSuccess && ev.SourcePath == "bar.txt" {
			sawSuccess = true
		}
	}
	if !sawStart || !sawSuccess {
		t.Errorf("expected bar.txt to rebuild after its recorded dependency changed (started=%v success=%v)", sawStart, sawSuccess)
	}
}

func mustContainInOrder(t *testing.T, got []event.Kind, want []event.Kind) {
	t.Helper()
	idx := 0
	for _, k := range got {
		if idx < len(want) && k == want[idx] {
			idx++
		}
	}
	if idx != len(want) {
		t.Fatalf("events %v did not contain %v in order (matched %d/%d)", got, want, idx, len(want))
	}
}
