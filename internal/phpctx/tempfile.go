package phpctx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TempFile is a file on disk that belongs to one caller. Close removes it;
// callers should defer Close right after creation.
type TempFile struct {
	path  string
	once  sync.Once
	errRm error
}

func createTempFile(pattern string, contents ...[]byte) (*TempFile, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: creating: %w", ErrTempFile, err)
	}
	tmp := &TempFile{path: f.Name()}

	for _, b := range contents {
		if _, err := f.Write(b); err != nil {
			f.Close()
			tmp.Close()
			return nil, fmt.Errorf("%w: writing %s: %w", ErrTempFile, tmp.path, err)
		}
	}
	if err := f.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: closing %s: %w", ErrTempFile, tmp.path, err)
	}

	abs, err := filepath.Abs(tmp.path)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: resolving %s: %w", ErrTempFile, tmp.path, err)
	}
	tmp.path = abs
	return tmp, nil
}

// Path returns the absolute path of the file.
func (t *TempFile) Path() string {
	return t.path
}

// Close removes the file. It is safe to call more than once.
func (t *TempFile) Close() error {
	t.once.Do(func() {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.errRm = err
		}
	})
	return t.errRm
}

// cleanupTB removes t when the test or benchmark finishes.
func cleanupTB(tb testing.TB, t *TempFile) {
	tb.Cleanup(func() {
		if err := t.Close(); err != nil {
			tb.Errorf("removing %s: %v", t.Path(), err)
		}
	})
}
