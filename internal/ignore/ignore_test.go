package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestMatcher_DefaultPattern(t *testing.T) {
	m, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"a.md", true},
		{"deep/nested/b.md", true},
		{"notes.txt", false},
		{"a.markdown", false},
		{".hidden.md", false},
		{".git/x.md", false},
		{".jj/repo/x.md", false},
		{"node_modules/pkg/README.md", false},
		{".obsidian/x.md", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_TopLevelPattern(t *testing.T) {
	m, err := New(t.TempDir(), Options{Pattern: "*.md"})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match("top.md") {
		t.Error("top-level file should match *.md")
	}
	if m.Match("sub/nested.md") {
		t.Error("*.md should only match top-level files")
	}
}

func TestMatcher_IgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, IgnoreFile), "drafts/\nscratch.md\n")
	writeFile(t, filepath.Join(root, ".gitignore"), "build/\n")

	tests := []struct {
		name      string
		gitignore bool
		path      string
		want      bool
	}{
		{"sqldownignore dir", false, "drafts/a.md", false},
		{"sqldownignore file", false, "scratch.md", false},
		{"nested file name", false, "sub/scratch.md", false},
		{"kept", false, "keep.md", true},
		{"gitignore off", false, "build/out.md", true},
		{"gitignore on", true, "build/out.md", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(root, Options{UseGitignore: tt.gitignore})
			if err != nil {
				t.Fatal(err)
			}
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_SkipDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, IgnoreFile), "archive\n")

	m, err := New(root, Options{})
	if err != nil {
		t.Fatal(err)
	}

	for path, want := range map[string]bool{
		".":            false,
		"docs":         false,
		".git":         true,
		"node_modules": true,
		"archive":      true,
		"docs/.cache":  true,
	} {
		if got := m.SkipDir(path); got != want {
			t.Errorf("SkipDir(%q) = %v, want %v", path, got, want)
		}
	}
}
