// Package persist provides the on-disk logging conventions shared by the
// layout, executor and manager packages: a single file-backed Logger that
// every component writes through.
package persist

import (
	"os"
	"time"

	"gitlab.com/NebulousLabs/log"
)

// Logger wraps gitlab.com/NebulousLabs/log with a file sink and the
// startup/shutdown banner convention used across the module's components.
type Logger struct {
	*log.Logger
	file *os.File
}

// NewLogger returns a Logger that appends to the file at path, creating the
// file if necessary. The parent directory is not created; it must exist.
func NewLogger(path string) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	logger := log.NewLogger(file)
	l := &Logger{Logger: logger, file: file}
	l.Println("STARTUP: chunk manager logging started", time.Now().Format(time.RFC3339))
	return l, nil
}

// Close writes the shutdown banner and closes the underlying file.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: logging stopped", time.Now().Format(time.RFC3339))
	return l.file.Close()
}
