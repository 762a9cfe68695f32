// Package vcs finds the repository a path belongs to.
//
// sqldown never runs git or jj. The repository root only decides where the
// default database lives and which .sqldown.env files apply.
package vcs

import (
	"os"
	"path/filepath"
)

// Kind names the version control systems whose metadata marks a root.
type Kind string

const (
	KindGit Kind = "git"
	KindJJ  Kind = "jj"
	// KindColocated is a jj repository sharing its root with git.
	KindColocated Kind = "jj+git"
)

// Repo is the nearest repository enclosing a path.
type Repo struct {
	Root string
	Kind Kind
}

// Find walks up from path to the first directory holding a .git entry (a
// directory, or a file in a worktree) or a .jj directory. A worktree is its
// own root.
func Find(path string) (Repo, bool) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return Repo{}, false
	}

	for {
		git := exists(filepath.Join(dir, ".git"), false)
		jj := exists(filepath.Join(dir, ".jj"), true)
		switch {
		case git && jj:
			return Repo{Root: dir, Kind: KindColocated}, true
		case git:
			return Repo{Root: dir, Kind: KindGit}, true
		case jj:
			return Repo{Root: dir, Kind: KindJJ}, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Repo{}, false
		}
		dir = parent
	}
}

// RepoRoot returns the root of the repository enclosing path, or "" when
// there is none.
func RepoRoot(path string) string {
	repo, _ := Find(path)
	return repo.Root
}

func exists(path string, dirOnly bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !dirOnly || info.IsDir()
}
