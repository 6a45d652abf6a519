package rlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotatingWriter is a size-based rotating log file writer that mirrors
// every write to an auxiliary stream (normally stdout). Rotation and
// mirroring failures are reported to stderr but never returned to the
// caller — logging must never be the reason a run aborts.
type RotatingWriter struct {
	logDir      string
	maxFileSize int64
	filePrefix  string

	mu          sync.Mutex
	currentFile *os.File
	currentPath string
	currentSize int64
	mirror      *os.File
}

// RotatingWriterConfig configures a RotatingWriter.
type RotatingWriterConfig struct {
	LogDir      string
	MaxFileSize int64 // default 10MiB
	FilePrefix  string
	Mirror      *os.File // nil disables mirroring
}

// NewRotatingWriter creates the log directory and opens the first file.
func NewRotatingWriter(cfg RotatingWriterConfig) (*RotatingWriter, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "ralphd"
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rw := &RotatingWriter{
		logDir:      cfg.LogDir,
		maxFileSize: cfg.MaxFileSize,
		filePrefix:  cfg.FilePrefix,
		mirror:      cfg.Mirror,
	}
	if err := rw.rotate(); err != nil {
		return nil, fmt.Errorf("create initial log file: %w", err)
	}
	return rw, nil
}

// Write implements io.Writer, rotating the backing file once it would
// exceed maxFileSize.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.mirror != nil {
		if _, err := rw.mirror.Write(p); err != nil {
			fmt.Fprintf(os.Stderr, "rlog: mirror write failed: %v\n", err)
		}
	}

	if rw.currentSize+int64(len(p)) > rw.maxFileSize {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "rlog: rotate failed: %v\n", err)
		}
	}

	if rw.currentFile == nil {
		return len(p), nil
	}
	n, err := rw.currentFile.Write(p)
	rw.currentSize += int64(n)
	return n, err
}

func (rw *RotatingWriter) rotate() error {
	if rw.currentFile != nil {
		if err := rw.currentFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "rlog: close failed: %v\n", err)
		}
	}
	name := fmt.Sprintf("%s-%s.log", rw.filePrefix, time.Now().Format("20060102-150405.000000"))
	path := filepath.Join(rw.logDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	rw.currentFile = f
	rw.currentPath = path
	rw.currentSize = 0
	return nil
}

// Close closes the current backing file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.currentFile == nil {
		return nil
	}
	err := rw.currentFile.Close()
	rw.currentFile = nil
	return err
}

// CurrentPath returns the path of the file currently being written.
func (rw *RotatingWriter) CurrentPath() string {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.currentPath
}
