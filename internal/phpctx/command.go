package phpctx

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"
)

// INIFile is anything with a path on disk, normally a *TempFile from
// CreateINIFile.
type INIFile interface {
	Path() string
}

// Invocation is a php command line that loads only one ini file.
type Invocation struct {
	program string
	args    []string
}

// Command builds `php -n -c <ini> <script>`. -n stops php from reading its
// default php.ini and scan directory; -c points it at ini instead. Nothing is
// started.
func (c *Context) Command(ini INIFile, script string) (*Invocation, error) {
	if err := checkPath(ini.Path()); err != nil {
		return nil, err
	}
	if err := checkPath(script); err != nil {
		return nil, err
	}
	return &Invocation{
		program: c.phpBin,
		args:    []string{"-n", "-c", ini.Path(), script},
	}, nil
}

// MustCommand is like Command but panics on error.
func (c *Context) MustCommand(ini INIFile, script string) *Invocation {
	inv, err := c.Command(ini, script)
	if err != nil {
		panic(err)
	}
	return inv
}

// Program returns the php binary the invocation runs.
func (i *Invocation) Program() string {
	return i.program
}

// Args returns a copy of the arguments passed to Program.
func (i *Invocation) Args() []string {
	return append([]string(nil), i.args...)
}

// Cmd returns an *exec.Cmd ready to start. PHPRC and PHP_INI_SCAN_DIR are
// removed from the inherited environment.
func (i *Invocation) Cmd() *exec.Cmd {
	cmd := exec.Command(i.program, i.args...)
	cmd.Env = isolatedEnv(os.Environ())
	return cmd
}

// CmdContext is like Cmd but kills the process when ctx is done.
func (i *Invocation) CmdContext(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, i.program, i.args...)
	cmd.Env = isolatedEnv(os.Environ())
	return cmd
}

// String renders the invocation as a shell command line.
func (i *Invocation) String() string {
	return shellescape.QuoteCommand(append([]string{i.program}, i.args...))
}

var iniEnvVars = []string{"PHPRC=", "PHP_INI_SCAN_DIR="}

func isolatedEnv(environ []string) []string {
	env := make([]string, 0, len(environ))
next:
	for _, kv := range environ {
		for _, prefix := range iniEnvVars {
			if strings.HasPrefix(kv, prefix) {
				continue next
			}
		}
		env = append(env, kv)
	}
	return env
}
