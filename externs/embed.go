// Package externs ships the extern declaration files the optimizing
// compiler needs to avoid renaming symbols that cross the bundle boundary.
// They are embedded so a bundlesmith binary is self-contained; Write
// materializes them because the compiler only accepts real file paths.
package externs

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

//go:embed *.js
var fs_ embed.FS

// Write copies the embedded externs into dir and returns their paths in
// stable order. Concurrent builds share the same extern paths, so each file
// is staged in a temp file and renamed into place: a compiler process that
// already holds a path open never sees a truncated extern.
func Write(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	entries, err := fs_.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		bs, err := fs.ReadFile(fs_, e.Name())
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, e.Name())
		if err := writeAtomic(dir, path, bs); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	slices.Sort(paths)
	return paths, nil
}

func writeAtomic(dir, path string, bs []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(bs); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
