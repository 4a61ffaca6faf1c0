// Package fpm runs php-fpm with the extension under test loaded, for tests
// that need to talk FastCGI to a real process manager.
package fpm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sadewadee/phptest/internal/config"
	"github.com/sadewadee/phptest/internal/phpctx"
)

// ErrNotFound means no php-fpm binary sits next to the php binary.
var ErrNotFound = errors.New("php-fpm not found")

// State represents the current state of the php-fpm process.
type State int32

const (
	StateStarting State = iota // Process spawned, not accepting connections yet
	StateRunning               // Listen address accepts connections
	StateStopped               // Process has exited or been stopped
)

// Options controls how php-fpm is started and stopped.
type Options struct {
	Name         string        // binary name prefix, phpctx.DefaultFPMName when empty
	Addr         string        // address to poll for readiness, phpctx.FPMListenAddr when empty
	StartTimeout time.Duration // how long to wait for Addr to accept connections
	StopTimeout  time.Duration // how long SIGQUIT may take before SIGKILL
	Output       io.Writer     // receives php-fpm stdout and stderr, discarded when nil
	Logger       *slog.Logger
}

// OptionsFromConfig maps the fpm section of the harness configuration.
func OptionsFromConfig(cfg config.FPMConfig, logger *slog.Logger) Options {
	return Options{
		Name:         cfg.Name,
		StartTimeout: cfg.StartTimeout.Duration(),
		StopTimeout:  cfg.StopTimeout.Duration(),
		Logger:       logger,
	}
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = phpctx.DefaultFPMName
	}
	if o.Addr == "" {
		o.Addr = phpctx.FPMListenAddr
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 5 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.Output == nil {
		o.Output = io.Discard
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Process is a running php-fpm master.
type Process struct {
	cmd    *exec.Cmd
	conf   *phpctx.TempFile
	ini    *phpctx.TempFile
	opts   Options
	state  atomic.Int32
	done   chan struct{}
	err    error // set before done is closed
	stopMu sync.Mutex
}

// Start launches php-fpm in the foreground with the bundled php-fpm.conf and
// an isolated php.ini that loads extPath, then waits until it accepts
// connections.
func Start(ctx *phpctx.Context, extPath string, opts Options) (*Process, error) {
	opts = opts.withDefaults()

	bin, ok := ctx.FindFPM(opts.Name)
	if !ok {
		return nil, fmt.Errorf("%w: cannot derive it from %s", ErrNotFound, ctx.PHPBin())
	}
	if _, err := os.Stat(bin); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	conf, err := ctx.CreateFPMConfFile()
	if err != nil {
		return nil, fmt.Errorf("creating php-fpm.conf: %w", err)
	}
	ini, err := ctx.CreateINIFile(extPath)
	if err != nil {
		conf.Close()
		return nil, fmt.Errorf("creating php.ini: %w", err)
	}

	args := []string{"-F", "-n", "-c", ini.Path(), "-y", conf.Path()}
	if os.Geteuid() == 0 {
		args = append(args, "-R")
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = opts.Output
	cmd.Stderr = opts.Output
	// pool workers inherit the output pipes and may outlive a killed master
	cmd.WaitDelay = time.Second

	p := &Process{
		cmd:  cmd,
		conf: conf,
		ini:  ini,
		opts: opts,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateStarting))

	if err := cmd.Start(); err != nil {
		p.removeFiles()
		return nil, fmt.Errorf("starting php-fpm: %w", err)
	}
	opts.Logger.Info("php-fpm starting", "binary", bin, "pid", cmd.Process.Pid, "addr", opts.Addr)

	go func() {
		p.err = cmd.Wait()
		p.state.Store(int32(StateStopped))
		close(p.done)
	}()

	if err := p.waitReady(); err != nil {
		p.kill()
		return nil, err
	}

	p.state.Store(int32(StateRunning))
	opts.Logger.Info("php-fpm ready", "pid", cmd.Process.Pid, "addr", opts.Addr)
	return p, nil
}

// StartTB is Start for tests: failures are fatal and the process is stopped
// when tb finishes.
func StartTB(tb testing.TB, ctx *phpctx.Context, extPath string, opts Options) *Process {
	tb.Helper()

	p, err := Start(ctx, extPath, opts)
	if err != nil {
		tb.Fatalf("starting php-fpm: %v", err)
	}
	tb.Cleanup(func() {
		if err := p.Stop(); err != nil {
			tb.Logf("stopping php-fpm: %v", err)
		}
	})
	return p
}

func (p *Process) waitReady() error {
	deadline := time.NewTimer(p.opts.StartTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		conn, err := net.DialTimeout("tcp", p.opts.Addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-p.done:
			return fmt.Errorf("php-fpm exited before accepting connections: %v", p.err)
		case <-deadline.C:
			return fmt.Errorf("php-fpm not listening on %s after %s", p.opts.Addr, p.opts.StartTimeout)
		case <-tick.C:
		}
	}
}

// Addr returns the address php-fpm listens on.
func (p *Process) Addr() string {
	return p.opts.Addr
}

// Pid returns the php-fpm master process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// IsAlive reports whether the master process has not exited.
func (p *Process) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop asks php-fpm to finish gracefully with SIGQUIT and kills it if it is
// still running after the stop timeout. Temporary files are removed either
// way. Calling Stop on a stopped process only cleans up.
func (p *Process) Stop() error {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()

	defer p.removeFiles()

	if !p.IsAlive() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGQUIT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.opts.Logger.Warn("signalling php-fpm failed", "pid", p.Pid(), "error", err)
	}

	select {
	case <-p.done:
		p.opts.Logger.Info("php-fpm stopped", "pid", p.Pid())
		return nil
	case <-time.After(p.opts.StopTimeout):
		p.opts.Logger.Warn("php-fpm did not stop in time, killing", "pid", p.Pid(), "timeout", p.opts.StopTimeout)
		return p.kill()
	}
}

// kill stops the process immediately and waits for it to be reaped.
func (p *Process) kill() error {
	defer p.removeFiles()

	err := p.cmd.Process.Kill()
	<-p.done
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing php-fpm: %w", err)
	}
	return nil
}

func (p *Process) removeFiles() {
	if err := p.conf.Close(); err != nil {
		p.opts.Logger.Warn("removing php-fpm.conf", "path", p.conf.Path(), "error", err)
	}
	if err := p.ini.Close(); err != nil {
		p.opts.Logger.Warn("removing php.ini", "path", p.ini.Path(), "error", err)
	}
}
