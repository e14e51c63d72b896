// Package blob serves raw work-item content (folder previews) by id.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrNotFound  = errors.New("blob not found")
	ErrInvalidID = errors.New("invalid blob id")
)

// Store returns raw bytes for an opaque id and lists ids under a prefix.
type Store interface {
	Get(ctx context.Context, id string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// FSStore is a Store rooted at a local directory. Ids are slash-separated
// paths relative to the root.
type FSStore struct {
	root fs.FS
	dir  string
}

// NewFSStore returns a store serving files under dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{root: os.DirFS(dir), dir: dir}
}

// Dir returns the root directory.
func (s *FSStore) Dir() string { return s.dir }

func clean(id string) (string, error) {
	raw := strings.Trim(strings.TrimSpace(id), "/")
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	p := path.Clean(raw)
	if raw == "" || p == "." || !fs.ValidPath(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return p, nil
}

// Get reads the file named by id. If id names a directory, the first file in
// it (by name) is returned, which is what a folder preview shows.
func (s *FSStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := clean(id)
	if err != nil {
		return nil, err
	}

	info, err := fs.Stat(s.root, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if info.IsDir() {
		entries, err := fs.ReadDir(s.root, p)
		if err != nil {
			return nil, fmt.Errorf("read folder %s: %w", id, err)
		}
		for _, e := range entries {
			if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				p = path.Join(p, e.Name())
				info = nil
				break
			}
		}
		if info != nil {
			return nil, fmt.Errorf("%w: folder %s is empty", ErrNotFound, id)
		}
	}

	data, err := fs.ReadFile(s.root, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return data, nil
}

// List returns the names of the entries directly under prefix, sorted.
// Hidden entries are skipped. An empty prefix lists the root.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := "."
	if strings.TrimSpace(prefix) != "" {
		var err error
		if p, err = clean(prefix); err != nil {
			return nil, err
		}
	}

	entries, err := fs.ReadDir(s.root, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
		}
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if p == "." {
			out = append(out, e.Name())
		} else {
			out = append(out, filepath.ToSlash(path.Join(p, e.Name())))
		}
	}
	sort.Strings(out)
	return out, nil
}
