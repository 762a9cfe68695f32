// Package ignore decides which files under a collection root are documents.
//
// A Matcher combines the --pattern glob with exclusion rules from the
// root's .gitignore and .sqldownignore files. Patterns use gitignore syntax
// via go-gitignore; a pattern without a slash is anchored at the root so
// "*.md" keeps its glob meaning of top-level files only.
package ignore

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultPattern selects markdown files at any depth.
const DefaultPattern = "**/*.md"

// IgnoreFile is the sqldown-specific exclusion file read from the root.
const IgnoreFile = ".sqldownignore"

var skipDirs = map[string]struct{}{
	".git":         {},
	".jj":          {},
	".hg":          {},
	".svn":         {},
	"node_modules": {},
	".venv":        {},
	"venv":         {},
	"__pycache__":  {},
}

// Options configures a Matcher.
type Options struct {
	// Pattern selects candidate files. Defaults to DefaultPattern.
	Pattern string
	// UseGitignore applies the root .gitignore as exclusions.
	UseGitignore bool
}

// Matcher is the include predicate for one root.
type Matcher struct {
	include  *gitignore.GitIgnore
	excludes []*gitignore.GitIgnore
	pattern  string
}

// New builds a Matcher for root. Missing ignore files are not an error.
func New(root string, opts Options) (*Matcher, error) {
	pattern := strings.TrimSpace(opts.Pattern)
	if pattern == "" {
		pattern = DefaultPattern
	}

	m := &Matcher{
		include: gitignore.CompileIgnoreLines(anchor(pattern)),
		pattern: pattern,
	}

	files := []string{IgnoreFile}
	if opts.UseGitignore {
		files = append(files, ".gitignore")
	}
	for _, name := range files {
		gi, err := gitignore.CompileIgnoreFile(filepath.Join(root, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		m.excludes = append(m.excludes, gi)
	}

	return m, nil
}

// Pattern returns the effective include pattern.
func (m *Matcher) Pattern() string {
	return m.pattern
}

// Match reports whether the slash-separated relative path is a document.
func (m *Matcher) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	for _, part := range strings.Split(path.Dir(rel), "/") {
		if skipDir(part) {
			return false
		}
	}
	if strings.HasPrefix(path.Base(rel), ".") {
		return false
	}
	if m.excluded(rel) {
		return false
	}
	return m.include.MatchesPath(rel)
}

// SkipDir reports whether a directory should not be descended into.
func (m *Matcher) SkipDir(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	if skipDir(path.Base(rel)) {
		return true
	}
	return m.excluded(rel + "/")
}

func (m *Matcher) excluded(rel string) bool {
	for _, gi := range m.excludes {
		if gi.MatchesPath(rel) {
			return true
		}
	}
	return false
}

func skipDir(name string) bool {
	if name == "." || name == "" {
		return false
	}
	if _, ok := skipDirs[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".")
}

func anchor(pattern string) string {
	if strings.Contains(pattern, "/") {
		return pattern
	}
	return "/" + pattern
}

