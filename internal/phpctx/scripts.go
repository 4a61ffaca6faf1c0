package phpctx

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

// ScriptResult is the outcome of running one PHP script in isolation.
type ScriptResult struct {
	Script   string
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether php exited with status 0.
func (r *ScriptResult) Success() bool {
	return r.ExitCode == 0
}

// ScriptCase pairs a script with the check its result must pass. A nil Check
// means the script has to exit successfully.
type ScriptCase struct {
	Script string
	Check  func(*ScriptResult) bool
}

// RunScript runs script with only the discovered ini content and extPath
// loaded. A non-zero exit is reported in the result, not as an error; errors
// mean php could not be run at all.
func (c *Context) RunScript(extPath, script string) (*ScriptResult, error) {
	ini, err := c.CreateINIFile(extPath)
	if err != nil {
		return nil, err
	}
	defer ini.Close()

	inv, err := c.Command(ini, script)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := inv.Cmd()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := &ScriptResult{Script: script, Command: inv.String()}
	err = cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		return nil, fmt.Errorf("running %s: %w", inv, err)
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}

// RequireScripts runs every script against extPath using the global Context
// and fails tb unless each one exits successfully.
func RequireScripts(tb testing.TB, extPath string, scripts ...string) {
	tb.Helper()

	cases := make([]ScriptCase, 0, len(scripts))
	for _, s := range scripts {
		cases = append(cases, ScriptCase{Script: s})
	}
	RequireScriptCases(tb, extPath, cases...)
}

// RequireScriptCases is RequireScripts with a custom check per script.
func RequireScriptCases(tb testing.TB, extPath string, cases ...ScriptCase) {
	tb.Helper()

	ctx, err := Global()
	if err != nil {
		tb.Fatalf("discovering php: %v", err)
	}
	ctx.requireScriptCases(tb, extPath, cases)
}

func (c *Context) requireScriptCases(tb testing.TB, extPath string, cases []ScriptCase) {
	tb.Helper()

	for _, sc := range cases {
		res, err := c.RunScript(extPath, sc.Script)
		if err != nil {
			tb.Fatalf("%s: %v", sc.Script, err)
		}

		tb.Logf("===== command =====\n%s", res.Command)
		tb.Logf("===== stdout =====\n%s", res.Stdout)
		tb.Logf("===== stderr =====\n%s", res.Stderr)

		check := sc.Check
		if check == nil {
			check = (*ScriptResult).Success
		}
		if !check(res) {
			tb.Fatalf("%s: check failed (exit status %d)", sc.Script, res.ExitCode)
		}
	}
}
