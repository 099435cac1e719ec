package fs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/gobwas/glob"
)

// Matcher filters file paths with include/exclude glob patterns. Patterns
// use '/' as the separator regardless of platform. An empty include list
// matches everything; excludes always win over includes.
type Matcher struct {
	included []glob.Glob
	excluded []glob.Glob
}

func NewMatcher(included, excluded []string) (*Matcher, error) {
	m := &Matcher{}
	for _, pattern := range included {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		m.included = append(m.included, g)
	}
	for _, pattern := range excluded {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		m.excluded = append(m.excluded, g)
	}
	return m, nil
}

func (m *Matcher) Match(path string) bool {
	for _, g := range m.excluded {
		if g.Match(path) {
			return false
		}
	}
	if len(m.included) == 0 {
		return true
	}
	for _, g := range m.included {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// CollectFiles walks root and returns the matching file paths, joined with
// root and sorted, so compiler input lists are deterministic across runs.
func CollectFiles(root string, m *Matcher) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if m.Match(filepath.ToSlash(rel)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// ContainsFiles returns true if root holds at least one file matching m,
// and false otherwise.
func ContainsFiles(root string, m *Matcher) (bool, error) {
	// errFound is a sentinel error used to stop the walk when a file is found.
	errFound := os.ErrExist

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if m.Match(filepath.ToSlash(rel)) {
			// Found a match, so return a special error to stop the walk.
			return errFound
		}
		return nil
	})
	if err == errFound {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}
