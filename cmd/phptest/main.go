package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/sadewadee/phptest/internal/config"
	"github.com/sadewadee/phptest/internal/fpm"
	"github.com/sadewadee/phptest/internal/phpctx"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "info":
		os.Exit(info())
	case "run":
		os.Exit(run(os.Args[2:]))
	case "fpm":
		os.Exit(serveFPM(os.Args[2:]))
	case "version":
		fmt.Printf("phptest v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// session is the state shared by every command: config, logger and the
// discovered php.
type session struct {
	cfg    *config.Config
	ctx    *phpctx.Context
	logger *slog.Logger
	closer io.Closer
}

// setup loads the harness config and discovers php once for the command.
func setup() (*session, bool) {
	cfgPath := os.Getenv(phpctx.EnvConfigFile)
	if cfgPath == "" {
		cfgPath = "phptest.yaml"
	}

	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		return nil, false
	}

	out, closer := resolveLogOutput(cfg.Logging.Output)
	s := &session{
		cfg:    cfg,
		logger: setupLogger(cfg.Logging.Level, cfg.Logging.Format, out),
		closer: closer,
	}

	opts := phpctx.OptionsFromConfig(cfg)
	opts.Logger = s.logger
	s.ctx, err = phpctx.Discover(opts)
	if err != nil {
		s.logger.Error("php discovery failed", "error", err)
		s.Close()
		return nil, false
	}
	return s, true
}

func (s *session) Close() {
	if s.closer != nil {
		s.closer.Close()
	}
}

func info() int {
	s, ok := setup()
	if !ok {
		return 1
	}
	defer s.Close()
	cfg, ctx := s.cfg, s.ctx

	fmt.Printf("php binary:  %s\n", ctx.PHPBin())
	files := ctx.INIFiles()
	if len(files) == 0 {
		fmt.Println("ini files:   (none)")
	}
	for i, f := range files {
		if i == 0 {
			fmt.Printf("ini files:   %s\n", f)
		} else {
			fmt.Printf("             %s\n", f)
		}
	}
	fmt.Printf("ini content: %d bytes\n", len(ctx.INIContent()))
	if bin, ok := ctx.FindFPM(cfg.FPM.Name); ok {
		fmt.Printf("php-fpm:     %s\n", bin)
	} else {
		fmt.Println("php-fpm:     (not derivable)")
	}
	return 0
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: phptest run <extension> <script>...")
		return 1
	}
	ext, err := filepath.Abs(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving extension path: %v\n", err)
		return 1
	}

	s, ok := setup()
	if !ok {
		return 1
	}
	defer s.Close()
	ctx, logger := s.ctx, s.logger

	pass := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()

	failed := 0
	for _, script := range args[1:] {
		res, err := ctx.RunScript(ext, script)
		if err != nil {
			logger.Error("running script failed", "script", script, "error", err)
			failed++
			continue
		}
		logger.Debug("script finished", "command", res.Command, "exit_code", res.ExitCode)

		if res.Success() {
			fmt.Printf("%s %s\n", pass("PASS"), script)
			continue
		}
		failed++
		fmt.Printf("%s %s (exit status %d)\n", fail("FAIL"), script, res.ExitCode)
		fmt.Printf("  command: %s\n", res.Command)
		if res.Stdout != "" {
			fmt.Printf("  stdout:\n%s\n", res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Printf("  stderr:\n%s\n", res.Stderr)
		}
	}

	fmt.Printf("\n%d passed, %d failed\n", len(args)-1-failed, failed)
	if failed > 0 {
		return 1
	}
	return 0
}

func serveFPM(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: phptest fpm <extension>")
		return 1
	}
	ext, err := filepath.Abs(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving extension path: %v\n", err)
		return 1
	}

	// Catch Ctrl-C before php-fpm exists so an early signal still cleans up
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	s, ok := setup()
	if !ok {
		return 1
	}
	defer s.Close()

	opts := fpm.OptionsFromConfig(s.cfg.FPM, s.logger)
	opts.Output = os.Stderr
	return runFPM(s, ext, opts, quit)
}

// runFPM starts php-fpm for ext and keeps it running until quit fires.
func runFPM(s *session, ext string, opts fpm.Options, quit <-chan os.Signal) int {
	cfg, ctx, logger := s.cfg, s.ctx, s.logger

	p, err := fpm.Start(ctx, ext, opts)
	if err != nil {
		logger.Error("failed to start php-fpm", "error", err)
		return 1
	}

	fmt.Printf("php-fpm listening on %s (pid %d), Ctrl-C to stop\n", p.Addr(), p.Pid())

	var (
		mu      sync.Mutex
		watcher *fpm.Watcher
	)

	// Restart php-fpm whenever the extension is rebuilt
	if cfg.FPM.Watch.Enabled {
		watcher = fpm.NewWatcher([]string{ext}, cfg.FPM.Watch.Interval.Duration(), logger, func() {
			mu.Lock()
			defer mu.Unlock()

			if err := p.Stop(); err != nil {
				logger.Warn("stopping php-fpm for restart", "error", err)
			}
			np, err := fpm.Start(ctx, ext, opts)
			if err != nil {
				logger.Error("restarting php-fpm failed", "error", err)
				return
			}
			p = np
			logger.Info("php-fpm restarted", "pid", p.Pid())
		})
		watcher.Start()
	}

	<-quit
	logger.Info("shutdown signal received")

	if watcher != nil {
		watcher.Stop()
	}

	mu.Lock()
	defer mu.Unlock()
	if err := p.Stop(); err != nil {
		logger.Error("php-fpm shutdown error", "error", err)
		return 1
	}
	return 0
}

// resolveLogOutput maps the logging.output setting to a writer. Files are
// opened for append and returned with their closer.
func resolveLogOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open log file %s, using stderr: %v\n", output, err)
		return os.Stderr, nil
	}
	return f, f
}

func setupLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func printUsage() {
	fmt.Println(`phptest - run PHP extensions against an isolated php.ini

Usage:
  phptest <command> [options]

Commands:
  info                          Show the discovered php binary and ini files
  run <extension> <script>...   Run scripts with only the extension loaded
  fpm <extension>               Start php-fpm with the extension until interrupted
  version                       Show version
  help                          Show this help

Environment:
  PHP_CONFIG                    php-config to query (default: php-config);
                                ignored when php.binary is set in the config file
  PHPTEST_CONFIG                harness config file (default: phptest.yaml)

Examples:
  phptest info
  phptest run target/debug/libhello.so tests/php/*.php
  PHP_CONFIG=php-config8.2 phptest fpm target/debug/libhello.so`)
}
