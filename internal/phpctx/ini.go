package phpctx

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

// CreateINIFile writes a new temporary ini file holding the discovered ini
// content followed by an extension= line for extPath. The path is written
// verbatim, so callers normally pass an absolute path to the built library.
func (c *Context) CreateINIFile(extPath string) (*TempFile, error) {
	if err := checkPath(extPath); err != nil {
		return nil, err
	}
	return createTempFile("phptest-*.ini",
		[]byte(c.iniContent),
		[]byte(fmt.Sprintf("extension=%s\n", extPath)),
	)
}

// TempINIFile is CreateINIFile for tests: failures are fatal and the file
// is removed when tb finishes.
func (c *Context) TempINIFile(tb testing.TB, extPath string) *TempFile {
	tb.Helper()

	ini, err := c.CreateINIFile(extPath)
	if err != nil {
		tb.Fatalf("creating php.ini for %s: %v", extPath, err)
	}
	cleanupTB(tb, ini)
	return ini
}

// checkPath rejects paths that cannot travel as a single text argument or a
// single ini line.
func checkPath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty path", ErrPathEncoding)
	case !utf8.ValidString(p):
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrPathEncoding, p)
	case strings.ContainsAny(p, "\x00\r\n"):
		return fmt.Errorf("%w: %q contains a NUL or line break", ErrPathEncoding, p)
	}
	return nil
}
