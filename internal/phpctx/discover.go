package phpctx

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sadewadee/phptest/internal/config"
	"github.com/sadewadee/phptest/internal/runner"
)

// DefaultPHPConfig is the probe tool used when PHP_CONFIG is unset.
const DefaultPHPConfig = "php-config"

const (
	loadedFileScript   = "echo php_ini_loaded_file();"
	scannedFilesScript = "echo php_ini_scanned_files();"
)

// Options controls how the interpreter is discovered.
type Options struct {
	PHPConfig string // probe tool; DefaultPHPConfig when empty
	Binary    string // skips the probe tool when set
	CacheFile string // msgpack snapshot, see loadSnapshot
	Runner    runner.Runner
	Logger    *slog.Logger
}

// OptionsFromConfig maps the harness configuration onto discovery options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PHPConfig: cfg.PHP.PHPConfig,
		Binary:    cfg.PHP.Binary,
		CacheFile: cfg.Discovery.Cache,
	}
}

func (o Options) withDefaults() Options {
	if o.PHPConfig == "" {
		o.PHPConfig = DefaultPHPConfig
	}
	if o.Runner == nil {
		o.Runner = runner.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Discover locates the PHP binary and concatenates the contents of its loaded
// php.ini and every scanned ini file, in load order. When a cache file is
// configured and holds a matching snapshot, the probe commands are skipped.
func Discover(opts Options) (*Context, error) {
	opts = opts.withDefaults()

	key := opts.cacheKey()
	if opts.CacheFile != "" {
		if ctx, ok := loadSnapshot(opts.CacheFile, key, opts.Logger); ok {
			return ctx, nil
		}
	}

	ctx, err := discover(opts)
	if err != nil {
		return nil, err
	}

	if opts.CacheFile != "" {
		if err := saveSnapshot(opts.CacheFile, key, ctx); err != nil {
			opts.Logger.Warn("could not write discovery cache", "path", opts.CacheFile, "error", err)
		}
	}
	return ctx, nil
}

func discover(opts Options) (*Context, error) {
	phpBin := opts.Binary
	if phpBin != "" {
		opts.Logger.Debug("php binary set explicitly, php-config not consulted", "binary", phpBin, "php_config", opts.PHPConfig)
	} else {
		out, err := opts.Runner.Output(opts.PHPConfig, "--php-binary")
		if err != nil {
			return nil, fmt.Errorf("%w: asking %s for the php binary: %w", ErrDiscovery, opts.PHPConfig, err)
		}
		if out == "" {
			return nil, fmt.Errorf("%w: %s --php-binary printed nothing", ErrDiscovery, opts.PHPConfig)
		}
		phpBin = out
	}
	opts.Logger.Debug("php binary discovered", "php_config", opts.PHPConfig, "binary", phpBin)

	loaded, err := probe(opts.Runner, phpBin, loadedFileScript)
	if err != nil {
		return nil, err
	}
	scanned, err := probe(opts.Runner, phpBin, scannedFilesScript)
	if err != nil {
		return nil, err
	}

	var files []string
	if loaded != "" {
		files = append(files, loaded)
	}
	files = append(files, splitScanned(scanned)...)

	var content strings.Builder
	for _, path := range files {
		data, err := readINI(path)
		if err != nil {
			return nil, err
		}
		opts.Logger.Debug("php ini file read", "path", path, "bytes", len(data))
		content.WriteString(data)
	}

	return &Context{
		phpBin:     phpBin,
		iniContent: content.String(),
		iniFiles:   files,
	}, nil
}

func probe(r runner.Runner, phpBin, script string) (string, error) {
	out, err := r.Output(phpBin, "-d", "display_errors=stderr", "-r", script)
	if err != nil {
		return "", fmt.Errorf("%w: running %q: %w", ErrDiscovery, script, err)
	}
	return out, nil
}

// splitScanned turns php_ini_scanned_files() output into paths. Entries are
// comma separated and may carry whitespace or newlines around them.
func splitScanned(list string) []string {
	if list == "" {
		return nil
	}
	var files []string
	for _, f := range strings.Split(list, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

// readINI reads a file the interpreter reported as loaded. A named file that
// cannot be read is an error, never skipped.
func readINI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfigRead, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrConfigRead, path)
	}
	return string(data), nil
}
