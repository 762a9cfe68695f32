package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// setupRepo creates a fake git checkout with a nested working directory.
func setupRepo(t *testing.T) (root, wd string) {
	t.Helper()

	root = t.TempDir()
	wd = filepath.Join(root, "sub")
	for _, dir := range []string{filepath.Join(root, ".git"), wd} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return root, wd
}

func writeEnv(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, EnvFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestInferTableName(t *testing.T) {
	tests := []struct {
		dir  string
		want string
	}{
		{"/work/notes", "notes"},
		{"/work/My Notes", "my_notes"},
		{"/work/2024-docs", "table_2024_docs"},
		{"/work/API.v2", "api_v2"},
		{"/work/---", "docs"},
		{"/work/_drafts_", "drafts"},
	}
	for _, tt := range tests {
		if got := InferTableName(tt.dir); got != tt.want {
			t.Errorf("InferTableName(%q) = %q, want %q", tt.dir, got, tt.want)
		}
	}
}

func TestResolveTable(t *testing.T) {
	if got := ResolveTable("tasks", "/work/notes"); got != "tasks" {
		t.Errorf("ResolveTable(tasks) = %q", got)
	}
	if got := ResolveTable("AUTO", "/work/notes"); got != "notes" {
		t.Errorf("ResolveTable(AUTO) = %q", got)
	}
	if got := ResolveTable("", "/work/notes"); got != "notes" {
		t.Errorf("ResolveTable(\"\") = %q", got)
	}
}

func TestDefaultDBPath(t *testing.T) {
	root, wd := setupRepo(t)

	if got, want := DefaultDBPath(wd), filepath.Join(root, ".sqldown.db"); got != want {
		t.Errorf("DefaultDBPath() in repo = %q, want %q", got, want)
	}
}

func TestEnvFiles(t *testing.T) {
	root, wd := setupRepo(t)
	md := filepath.Join(wd, "notes")

	got := EnvFiles(wd, md)
	want := []string{
		filepath.Join(root, EnvFile),
		filepath.Join(wd, EnvFile),
		filepath.Join(md, EnvFile),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EnvFiles() (-want +got):\n%s", diff)
	}

	// The markdown root is the working directory: listed once.
	if got := EnvFiles(wd, wd); len(got) != 2 {
		t.Errorf("EnvFiles(wd, wd) = %v, want 2 entries", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	_, wd := setupRepo(t)

	got := Load(New(wd))
	if got.Table != DefaultTable || got.Pattern != DefaultPattern {
		t.Errorf("table/pattern = %q/%q", got.Table, got.Pattern)
	}
	if got.MaxColumns != DefaultMaxColumns || got.TopSections != DefaultTopSections {
		t.Errorf("max/top = %d/%d", got.MaxColumns, got.TopSections)
	}
	if got.Debounce != DefaultDebounce {
		t.Errorf("Debounce = %v", got.Debounce)
	}
	if got.Verbose || !got.Gitignore {
		t.Errorf("Verbose = %v, Gitignore = %v", got.Verbose, got.Gitignore)
	}
}

func TestLoad_Cascade(t *testing.T) {
	root, wd := setupRepo(t)
	md := filepath.Join(wd, "notes")

	writeEnv(t, root, "SQLDOWN_MAX_COLUMNS=500\nSQLDOWN_TABLE=repo\nSQLDOWN_VERBOSE=yes\n")
	writeEnv(t, wd, "SQLDOWN_TABLE=cwd\nTOP_SECTIONS=7\n")
	writeEnv(t, md, "SQLDOWN_TABLE=notes\nSQLDOWN_DEBOUNCE=2s\n")
	t.Setenv("SQLDOWN_TOP_SECTIONS", "5")

	v := New(wd)
	loaded, err := LoadEnvFiles(v, EnvFiles(wd, md))
	if err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("loaded %v, want 3 files", loaded)
	}

	got := Load(v)
	if got.MaxColumns != 500 {
		t.Errorf("MaxColumns = %d, want 500 from the repo root file", got.MaxColumns)
	}
	if got.Table != "notes" {
		t.Errorf("Table = %q, want notes from the markdown root file", got.Table)
	}
	if got.TopSections != 5 {
		t.Errorf("TopSections = %d, want 5 from the environment", got.TopSections)
	}
	if got.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v, want 2s", got.Debounce)
	}
	if !got.Verbose {
		t.Error("Verbose = false, want true")
	}
}

func TestLoadEnvFiles_Missing(t *testing.T) {
	v := New(t.TempDir())

	loaded, err := LoadEnvFiles(v, []string{filepath.Join(t.TempDir(), EnvFile)})
	if err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded = %v", loaded)
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "TRUE", "1", "yes", "On", " y "} {
		if !ParseBool(s) {
			t.Errorf("ParseBool(%q) = false", s)
		}
	}
	for _, s := range []string{"", "false", "0", "no", "off", "maybe"} {
		if ParseBool(s) {
			t.Errorf("ParseBool(%q) = true", s)
		}
	}
}
