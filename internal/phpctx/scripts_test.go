package phpctx

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScript(t *testing.T) {
	ctx := New(writeFakePHP(t), "display_errors=On\n")

	res, err := ctx.RunScript("/ext/libhello.so", "tests/hello.php")
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, "tests/hello.php", res.Script)
	assert.Contains(t, res.Command, " -n -c ")
	assert.Contains(t, res.Stdout, "display_errors=On\nextension=/ext/libhello.so\n")
	assert.Contains(t, res.Stdout, "ran tests/hello.php")
	assert.Empty(t, res.Stderr)
}

func TestRunScriptFailureIsAResult(t *testing.T) {
	ctx := New(writeFakePHP(t), "")

	res, err := ctx.RunScript("/ext/a.so", "tests/fail.php")
	require.NoError(t, err)

	assert.False(t, res.Success())
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "fatal error in tests/fail.php")
}

func TestRunScriptMissingBinary(t *testing.T) {
	ctx := New("/nonexistent/bin/php", "")

	_, err := ctx.RunScript("/ext/a.so", "a.php")
	require.Error(t, err)
}

func TestRunScriptLeavesNoIniBehind(t *testing.T) {
	ctx := New(writeFakePHP(t), "")

	res, err := ctx.RunScript("/ext/a.so", "a.php")
	require.NoError(t, err)

	// the fake prints the ini it was given; the -c argument names it
	fields := strings.Fields(res.Command)
	require.Len(t, fields, 5)
	assert.NoFileExists(t, fields[3])
}

// recordingTB captures failures instead of stopping the real test.
type recordingTB struct {
	testing.TB
	fatal string
	logs  []string
}

type fatalSignal struct{}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Logf(format string, args ...any) {
	r.logs = append(r.logs, fmt.Sprintf(format, args...))
}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.fatal = fmt.Sprintf(format, args...)
	panic(fatalSignal{})
}

func runRecording(r *recordingTB, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			if _, ok := v.(fatalSignal); !ok {
				panic(v)
			}
		}
	}()
	fn()
}

func TestRequireScriptCases(t *testing.T) {
	ctx := New(writeFakePHP(t), "")

	rec := &recordingTB{TB: t}
	runRecording(rec, func() {
		ctx.requireScriptCases(rec, "/ext/a.so", []ScriptCase{
			{Script: "ok.php"},
			{Script: "fail.php", Check: func(r *ScriptResult) bool { return r.ExitCode == 3 }},
			{Script: "other.php", Check: func(r *ScriptResult) bool { return strings.Contains(r.Stdout, "ran other.php") }},
		})
	})
	assert.Empty(t, rec.fatal)
	assert.Len(t, rec.logs, 9)

	rec = &recordingTB{TB: t}
	runRecording(rec, func() {
		ctx.requireScriptCases(rec, "/ext/a.so", []ScriptCase{{Script: "ok.php"}, {Script: "fail.php"}, {Script: "never.php"}})
	})
	assert.Equal(t, "fail.php: check failed (exit status 3)", rec.fatal)
	for _, l := range rec.logs {
		assert.NotContains(t, l, "never.php")
	}
}
