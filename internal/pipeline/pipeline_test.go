package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	def, err := Load(filepath.Join(t.TempDir(), "pipeline.json"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if len(def) != 0 {
		t.Errorf("Load() = %v, want empty definition", def)
	}
}

func TestLoadValidDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	data := `{
		"txt": {"executable": "txt-compiler", "args": ["--persistent"]},
		"png": {"executable": "png-compiler", "env": {"TMPDIR": "/tmp"}}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if def["txt"].Executable != "txt-compiler" {
		t.Errorf("txt.Executable = %q, want txt-compiler", def["txt"].Executable)
	}
	if def["png"].Env["TMPDIR"] != "/tmp" {
		t.Errorf("png.Env[TMPDIR] = %q, want /tmp", def["png"].Env["TMPDIR"])
	}
}

func TestLoadMissingExecutableIsFormatError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	data := `{"txt": {"args": ["--persistent"]}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() with missing executable should error")
	}
	if !strings.Contains(err.Error(), "/executable") {
		t.Errorf("error = %q, want it to name the JSON pointer /executable", err.Error())
	}
}

func TestLoadMalformedJSONIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() of malformed JSON should error")
	}
}

func TestRequiredFieldsIncludesExecutable(t *testing.T) {
	found := false
	for _, f := range requiredFields() {
		if f == "executable" {
			found = true
		}
	}
	if !found {
		t.Errorf("requiredFields() = %v, want it to include executable", requiredFields())
	}
}
