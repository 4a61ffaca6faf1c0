package phpctx

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/phptest/internal/config"
)

func TestLazyRunsInitOnceUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	start := make(chan struct{})

	lazy := NewLazy(func() (*Context, error) {
		calls.Add(1)
		return New("/usr/bin/php", "memory_limit=-1\n"), nil
	})

	const n = 64
	results := make([]*Context, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ctx, err := lazy.Get()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = ctx
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 1; i < n; i++ {
		require.Same(t, results[0], results[i])
	}
	assert.Equal(t, "memory_limit=-1\n", results[0].INIContent())
}

func TestLazyRemembersError(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("php-config: not found")

	lazy := NewLazy(func() (*Context, error) {
		calls.Add(1)
		return nil, boom
	})

	for i := 0; i < 3; i++ {
		_, err := lazy.Get()
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestLazyWithDiscovery(t *testing.T) {
	r := newFakeRunner()
	r.setPHP("php-config", "/usr/bin/php", "", "")

	lazy := NewLazy(func() (*Context, error) {
		return Discover(Options{Runner: r, Logger: discardLogger})
	})

	first, err := lazy.Get()
	require.NoError(t, err)
	second, err := lazy.Get()
	require.NoError(t, err)

	assert.Same(t, first, second)
	// php-config plus the two interpreter probes
	assert.Equal(t, 3, r.callCount())
}

func TestINIFilesReturnsCopy(t *testing.T) {
	ctx := &Context{phpBin: "/usr/bin/php", iniFiles: []string{"/etc/php.ini"}}

	files := ctx.INIFiles()
	files[0] = "/tmp/evil.ini"

	assert.Equal(t, []string{"/etc/php.ini"}, ctx.INIFiles())
}

func TestDiscoverFromEnvironmentUsesPHPConfig(t *testing.T) {
	dir := t.TempDir()
	primary := writeFile(t, filepath.Join(dir, "php.ini"), "memory_limit=64M\n")
	scanned := writeFile(t, filepath.Join(dir, "conf.d", "20-json.ini"), "extension=json\n")
	phpConfig, phpBin := writeFakeToolchain(t, primary, scanned+",")

	t.Setenv(EnvConfigFile, filepath.Join(dir, "absent.yaml"))
	t.Setenv(config.EnvPHPConfig, phpConfig)

	ctx, err := discoverFromEnvironment()
	require.NoError(t, err)

	assert.Equal(t, phpBin, ctx.PHPBin())
	assert.Equal(t, "memory_limit=64M\nextension=json\n", ctx.INIContent())
	assert.Equal(t, []string{primary, scanned}, ctx.INIFiles())
}

func TestDiscoverFromEnvironmentReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	_, phpBin := writeFakeToolchain(t, "", "")
	cfgPath := writeFile(t, filepath.Join(dir, "phptest.yaml"), "php:\n  binary: "+phpBin+"\n")

	t.Setenv(EnvConfigFile, cfgPath)
	// php.binary takes precedence, so a broken php-config is never run
	t.Setenv(config.EnvPHPConfig, filepath.Join(dir, "no-such-php-config"))

	ctx, err := discoverFromEnvironment()
	require.NoError(t, err)
	assert.Equal(t, phpBin, ctx.PHPBin())
	assert.Empty(t, ctx.INIContent())
}

func TestDiscoverFromEnvironmentBadConfigFile(t *testing.T) {
	cfgPath := writeFile(t, filepath.Join(t.TempDir(), "phptest.yaml"), "logging:\n  level: trace\n")
	t.Setenv(EnvConfigFile, cfgPath)

	_, err := discoverFromEnvironment()
	assert.Error(t, err)
}
