package phpctx

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshot is the on-disk form of a discovered Context.
type snapshot struct {
	Key        string      `msgpack:"key"`
	PHPBin     fileStamp   `msgpack:"php_bin"`
	INIContent string      `msgpack:"ini_content"`
	INIFiles   []fileStamp `msgpack:"ini_files"`
}

// fileStamp records what a file looked like when the snapshot was taken.
type fileStamp struct {
	Path    string `msgpack:"path"`
	Size    int64  `msgpack:"size"`
	ModTime int64  `msgpack:"mtime"` // unix nanoseconds
}

func stampFile(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{Path: path, Size: info.Size(), ModTime: info.ModTime().UnixNano()}, nil
}

// freshAt reports whether the file at path still has the recorded size and
// mtime.
func (s fileStamp) freshAt(path string) bool {
	now, err := stampFile(path)
	return err == nil && now.Size == s.Size && now.ModTime == s.ModTime
}

// binaryPath resolves a php binary given by name through PATH so it can be
// stamped.
func binaryPath(phpBin string) string {
	if p, err := exec.LookPath(phpBin); err == nil {
		return p
	}
	return phpBin
}

// cacheKey ties a snapshot to the probe tool and binary it was built for.
func (o Options) cacheKey() string {
	return o.PHPConfig + "\x00" + o.Binary
}

// loadSnapshot returns the cached Context when path holds a snapshot for key
// and the php binary and every ini file are unchanged on disk. Anything else
// is a miss, so discovery runs again and reports missing files itself.
func loadSnapshot(path, key string, logger *slog.Logger) (*Context, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Debug("discovery cache unreadable", "path", path, "error", err)
		}
		return nil, false
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		logger.Debug("discovery cache corrupt", "path", path, "error", err)
		return nil, false
	}
	if snap.Key != key || snap.PHPBin.Path == "" {
		logger.Debug("discovery cache stale", "path", path)
		return nil, false
	}
	if !snap.PHPBin.freshAt(binaryPath(snap.PHPBin.Path)) {
		logger.Debug("discovery cache stale", "path", path, "changed", snap.PHPBin.Path)
		return nil, false
	}

	files := make([]string, 0, len(snap.INIFiles))
	for _, f := range snap.INIFiles {
		if !f.freshAt(f.Path) {
			logger.Debug("discovery cache stale", "path", path, "changed", f.Path)
			return nil, false
		}
		files = append(files, f.Path)
	}

	logger.Debug("discovery cache hit", "path", path, "binary", snap.PHPBin.Path)
	return &Context{
		phpBin:     snap.PHPBin.Path,
		iniContent: snap.INIContent,
		iniFiles:   files,
	}, true
}

// saveSnapshot writes ctx to path through a rename so readers never see a
// partial file.
func saveSnapshot(path, key string, ctx *Context) error {
	snap := &snapshot{Key: key, INIContent: ctx.iniContent}

	bin, err := stampFile(binaryPath(ctx.phpBin))
	if err != nil {
		return fmt.Errorf("stat php binary: %w", err)
	}
	// a hit must hand back the binary exactly as discovered
	bin.Path = ctx.phpBin
	snap.PHPBin = bin

	for _, f := range ctx.iniFiles {
		st, err := stampFile(f)
		if err != nil {
			return fmt.Errorf("stat ini file: %w", err)
		}
		snap.INIFiles = append(snap.INIFiles, st)
	}

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding discovery cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".phptest-cache-*")
	if err != nil {
		return fmt.Errorf("creating discovery cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing discovery cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing discovery cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing discovery cache: %w", err)
	}
	return nil
}
