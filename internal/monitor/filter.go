package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// Filter decides which paths under a root are not worth a reload.
type Filter struct {
	root  string
	repo  gitignore.GitIgnore
	globs []string
}

// NewFilter reads the .gitignore rules under root and validates the extra
// glob patterns, which use doublestar syntax relative to root.
func NewFilter(root string, globs []string) (*Filter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid watch_ignore pattern %q", g)
		}
	}
	f := &Filter{root: abs, globs: globs}
	if _, err := os.Stat(filepath.Join(abs, ".gitignore")); err == nil {
		repo, err := gitignore.NewRepositoryWithFile(abs, ".gitignore")
		if err != nil {
			return nil, fmt.Errorf("reading .gitignore: %w", err)
		}
		f.repo = repo
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return f, nil
}

// Ignored reports whether path is excluded. The .git directory is always
// excluded.
func (f *Filter) Ignored(path string, isDir bool) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".git" || doublestarMatch(".git/**", rel) {
		return true
	}
	for _, g := range f.globs {
		if doublestarMatch(g, rel) {
			return true
		}
		if isDir && doublestarMatch(g, rel+"/") {
			return true
		}
	}
	if f.repo != nil {
		if m := f.repo.Absolute(abs, isDir); m != nil {
			return m.Ignore()
		}
	}
	return false
}

func doublestarMatch(pattern, name string) bool {
	ok, _ := doublestar.Match(pattern, name)
	return ok
}
