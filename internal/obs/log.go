// Package obs holds the logger, the Prometheus metrics and the status HTTP server.
package obs

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	base         = log.New(os.Stderr, "", log.LstdFlags)
	debugEnabled atomic.Bool
)

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) { debugEnabled.Store(v) }

// SetOutput redirects all records to w.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// Setup points the logger at path, opened in append mode, and enables
// debug records when debug is set. An empty path keeps stderr. The returned
// closer releases the file.
func Setup(path string, debug bool) (io.Closer, error) {
	EnableDebug(debug)
	if path == "" {
		SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	SetOutput(f)
	return f, nil
}

func logf(level, format string, args ...any) {
	base.Output(3, "["+level+"] "+fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any)  { logf("INFO", format, args...) }
func Warnf(format string, args ...any)  { logf("WARN", format, args...) }
func Errorf(format string, args ...any) { logf("ERROR", format, args...) }

func Debugf(format string, args ...any) {
	if debugEnabled.Load() {
		logf("DEBUG", format, args...)
	}
}
