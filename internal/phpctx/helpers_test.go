package phpctx

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
)

// fakeRunner answers probe commands from a table keyed by the full command
// line and records every call.
type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func commandKey(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func (f *fakeRunner) Output(name string, args ...string) (string, error) {
	key := commandKey(name, args...)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)

	if err, ok := f.errs[key]; ok {
		return "", err
	}
	out, ok := f.outputs[key]
	if !ok {
		return "", fmt.Errorf("unexpected command: %s", key)
	}
	return out, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// setPHP registers the three discovery probes for a php binary.
func (f *fakeRunner) setPHP(phpConfig, phpBin, loaded, scanned string) {
	f.outputs[commandKey(phpConfig, "--php-binary")] = phpBin
	f.outputs[commandKey(phpBin, "-d", "display_errors=stderr", "-r", loadedFileScript)] = loaded
	f.outputs[commandKey(phpBin, "-d", "display_errors=stderr", "-r", scannedFilesScript)] = scanned
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const fakePHPScript = `#!/bin/sh
if [ "$#" -ne 4 ] || [ "$1" != "-n" ] || [ "$2" != "-c" ]; then
	echo "unexpected arguments: $*" >&2
	exit 64
fi
cat "$3"
echo "PHPRC=${PHPRC-unset}"
echo "PHP_INI_SCAN_DIR=${PHP_INI_SCAN_DIR-unset}"
case "$4" in
*fail*)
	echo "fatal error in $4" >&2
	exit 3
	;;
esac
echo "ran $4"
`

// writeFakePHP installs a shell script standing in for php under dir/bin. It
// prints the ini file it was given and fails for scripts named *fail*.
func writeFakePHP(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake php needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	bin := filepath.Join(t.TempDir(), "bin", "php")
	writeFile(t, bin, fakePHPScript)
	if err := os.Chmod(bin, 0755); err != nil {
		t.Fatal(err)
	}
	return bin
}

// writeFakeToolchain installs a fake php-config that prints the path of a fake
// php, which in turn answers the loaded/scanned ini probes with the given
// values. It returns the php-config and php paths.
func writeFakeToolchain(t *testing.T, loaded, scanned string) (phpConfig, phpBin string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := filepath.Join(t.TempDir(), "bin")
	phpBin = writeFile(t, filepath.Join(dir, "php"), fmt.Sprintf(`#!/bin/sh
case "$4" in
*php_ini_loaded_file*) printf '%%s' '%s' ;;
*php_ini_scanned_files*) printf '%%s\n' '%s' ;;
*) exit 64 ;;
esac
`, loaded, scanned))
	phpConfig = writeFile(t, filepath.Join(dir, "php-config"), fmt.Sprintf("#!/bin/sh\necho '%s'\n", phpBin))

	for _, p := range []string{phpBin, phpConfig} {
		if err := os.Chmod(p, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return phpConfig, phpBin
}
