package phpctx

import (
	"os"
	"sync"

	"github.com/sadewadee/phptest/internal/config"
)

// EnvConfigFile names the environment variable pointing at the harness
// configuration used by Global. It defaults to phptest.yaml in the working
// directory; a missing file means defaults.
const EnvConfigFile = "PHPTEST_CONFIG"

// Context is the discovered PHP interpreter and its merged ini content.
// A Context never changes after it is built.
type Context struct {
	phpBin     string
	iniContent string
	iniFiles   []string
}

// New returns a Context for an already known interpreter and ini content.
func New(phpBin, iniContent string) *Context {
	return &Context{phpBin: phpBin, iniContent: iniContent}
}

// PHPBin returns the path of the php binary.
func (c *Context) PHPBin() string {
	return c.phpBin
}

// INIContent returns the loaded php.ini followed by every scanned ini file.
func (c *Context) INIContent() string {
	return c.iniContent
}

// INIFiles returns the ini files INIContent was built from, in load order.
func (c *Context) INIFiles() []string {
	return append([]string(nil), c.iniFiles...)
}

// Lazy computes a Context on first use and hands the same result to every
// caller afterwards. Concurrent first callers block until the single
// initialization finishes.
type Lazy struct {
	get func() (*Context, error)
}

// NewLazy wraps fn so that it runs at most once.
func NewLazy(fn func() (*Context, error)) *Lazy {
	return &Lazy{get: sync.OnceValues(fn)}
}

// Get returns the Context, running the initializer if this is the first call.
func (l *Lazy) Get() (*Context, error) {
	return l.get()
}

var global = NewLazy(discoverFromEnvironment)

// Global returns the process-wide Context, discovering it on the first call.
// A failed discovery is remembered; later calls return the same error.
func Global() (*Context, error) {
	return global.Get()
}

// MustGlobal is like Global but panics if discovery failed.
func MustGlobal() *Context {
	ctx, err := Global()
	if err != nil {
		panic(err)
	}
	return ctx
}

func discoverFromEnvironment() (*Context, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = "phptest.yaml"
	}
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	return Discover(OptionsFromConfig(cfg))
}
