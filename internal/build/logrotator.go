package build

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is the number of rotated files kept on disk.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the size in MB at which a log rotates.
	DefaultMaxLogFileSize = 20

	// DefaultLogFilename is the name of the active log file.
	DefaultLogFilename = "inboxpilot.log"
)

// RotatingLogWriter feeds a jrick/logrotate rotator through a pipe.
// Rotated files are gzip-compressed.
type RotatingLogWriter struct {
	pipe    *io.PipeWriter
	rotator *rotator.Rotator
	done    chan struct{}
}

// NewRotatingLogWriter opens dir/DefaultLogFilename and starts the rotator
// goroutine.
func NewRotatingLogWriter(dir string, maxFiles, maxSizeMB int) (*RotatingLogWriter, error) {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxLogFiles
	}
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxLogFileSize
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}

	// Size is in kilobytes.
	rot, err := rotator.New(
		filepath.Join(dir, DefaultLogFilename),
		int64(maxSizeMB*1024),
		false,
		maxFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("creating file rotator: %w", err)
	}
	rot.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	w := &RotatingLogWriter{
		pipe:    pw,
		rotator: rot,
		done:    make(chan struct{}),
	}

	// The rotator is the log destination, so its own failures go to
	// stderr.
	go func() {
		defer close(w.done)
		err := rot.Run(pr)
		if err != nil && !errors.Is(err, io.EOF) {
			_, _ = fmt.Fprintf(os.Stderr,
				"failed to run file rotator: %v\n", err)
		}
	}()

	return w, nil
}

// Write implements io.Writer.
func (w *RotatingLogWriter) Write(b []byte) (int, error) {
	return w.pipe.Write(b)
}

// Close flushes the pipe, waits for the rotator to drain it and closes
// the log file.
func (w *RotatingLogWriter) Close() error {
	err := w.pipe.Close()
	<-w.done
	return errors.Join(err, w.rotator.Close())
}
