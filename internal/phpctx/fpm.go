package phpctx

import (
	_ "embed"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

// DefaultFPMName is the usual name of the FastCGI process manager binary.
const DefaultFPMName = "php-fpm"

// FPMListenAddr is the address the bundled php-fpm.conf listens on.
const FPMListenAddr = "127.0.0.1:9000"

//go:embed etc/php-fpm.conf
var fpmConf []byte

// FPMConf returns the bundled php-fpm configuration.
func FPMConf() []byte {
	return append([]byte(nil), fpmConf...)
}

// FindFPM derives the process manager sitting next to the php binary:
// /usr/bin/php8.1 gives /usr/sbin/php-fpm8.1 for name "php-fpm". The suffix
// is whatever follows "php" in the binary name. It reports false when the
// binary has no grandparent directory or its name is not valid UTF-8. The
// returned file is not checked for existence.
func (c *Context) FindFPM(name string) (string, bool) {
	parent, ok := parentDir(c.phpBin)
	if !ok {
		return "", false
	}
	grandparent, ok := parentDir(parent)
	if !ok {
		return "", false
	}

	base := filepath.Base(c.phpBin)
	if !utf8.ValidString(base) {
		return "", false
	}
	suffix := ""
	if strings.HasPrefix(base, "php") {
		suffix = base[len("php"):]
	}
	return filepath.Join(grandparent, "sbin", name+suffix), true
}

// parentDir returns the directory containing p. The root and the empty path
// have no parent; a bare file name has the empty path as its parent.
func parentDir(p string) (string, bool) {
	const sep = string(filepath.Separator)

	trimmed := strings.TrimRight(p, sep)
	if trimmed == "" {
		return "", false
	}
	i := strings.LastIndex(trimmed, sep)
	if i < 0 {
		return "", true
	}
	dir := strings.TrimRight(trimmed[:i], sep)
	if dir == "" {
		return sep, true
	}
	return dir, true
}

// CreateFPMConfFile writes the bundled php-fpm.conf to a new temporary file.
func (c *Context) CreateFPMConfFile() (*TempFile, error) {
	return createTempFile("phptest-fpm-*.conf", fpmConf)
}

// TempFPMConfFile is CreateFPMConfFile for tests.
func (c *Context) TempFPMConfFile(tb testing.TB) *TempFile {
	tb.Helper()

	conf, err := c.CreateFPMConfFile()
	if err != nil {
		tb.Fatalf("creating php-fpm.conf: %v", err)
	}
	cleanupTB(tb, conf)
	return conf
}
