// Package scratch manages temporary directories owned by one caller. A Dir
// lives until its Close is called; nothing is cached between runs.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Dir is a temporary directory removed by Close.
type Dir struct {
	path string
	once sync.Once
	err  error
}

// New creates a directory under parent, or under the system temporary
// directory when parent is empty. pattern follows os.MkdirTemp.
func New(parent, pattern string) (*Dir, error) {
	path, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory.
func (d *Dir) Path() string { return d.path }

// Join returns a path inside the directory.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Close removes the directory and everything in it. Later calls return the
// result of the first.
func (d *Dir) Close() error {
	d.once.Do(func() {
		if err := os.RemoveAll(d.path); err != nil {
			d.err = fmt.Errorf("scratch: %w", err)
		}
	})
	return d.err
}
