// Package macro resolves macro names against the on-disk macro repository.
// The repository is read-only from the gateway's point of view.
package macro

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrNotFound    = errors.New("macro not found")
	ErrInvalidName = errors.New("invalid macro name")
)

// Repository checks macro artifacts stored as <dir>/<name><ext>.
type Repository struct {
	dir string
	ext string
}

func NewRepository(dir, ext string) *Repository {
	return &Repository{dir: dir, ext: ext}
}

// Dir returns the repository root.
func (r *Repository) Dir() string { return r.dir }

// Path maps a macro name to its artifact path. Names may contain
// sub-directories but must stay inside the repository.
func (r *Repository) Path(name string) (string, error) {
	rel := filepath.FromSlash(name + r.ext)
	if name == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(r.dir, rel), nil
}

// Lookup returns the artifact path for name, or ErrNotFound when no regular
// file backs it.
func (r *Repository) Lookup(name string) (string, error) {
	path, err := r.Path(name)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return path, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return path, fmt.Errorf("stat macro file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return path, fmt.Errorf("%w: %s is not a file", ErrNotFound, path)
	}
	return path, nil
}
