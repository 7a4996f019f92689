// Package logging builds the process logger. Records go to stdout and,
// when a log file is configured, are appended to that file as well.
// The file is best-effort: a write that fails is dropped and never
// surfaces to the caller.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/nugget/amazo/internal/config"
)

// Options selects the handler for [New].
type Options struct {
	Level  slog.Level
	Format string // text, json, or auto
	File   string // empty disables the file copy
}

// New returns a logger writing to stdout and, if opts.File is set, to
// an append-only [FileSink]. The returned closer releases the file.
func New(stdout io.Writer, opts Options) (*slog.Logger, io.Closer) {
	var w io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		sink := NewFileSink(opts.File)
		w = io.MultiWriter(stdout, sink)
		closer = sink
	}
	return NewHandlerLogger(w, opts.Level, ResolveFormat(opts.Format, stdout)), closer
}

// NewHandlerLogger builds a text or JSON slog logger on w.
func NewHandlerLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ResolveFormat maps "auto" (or empty) to "text" when w is a terminal
// and "json" otherwise. Explicit formats pass through lowercased.
func ResolveFormat(format string, w io.Writer) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "text", "json":
		return f
	}
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		fd := f.Fd()
		if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			return "text"
		}
	}
	return "json"
}

// FileSink is an append-only file writer that never fails. The file is
// opened lazily and reopened after an error, so a log directory that
// appears later (or a rotated file) is picked up on the next write.
type FileSink struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewFileSink returns a sink appending to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Write appends p to the file. It always reports success so that an
// [io.MultiWriter] carrying it keeps writing to its other targets.
func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return len(p), nil
		}
		s.f = f
	}
	if _, err := s.f.Write(p); err != nil {
		s.f.Close()
		s.f = nil
	}
	return len(p), nil
}

// Close releases the underlying file, if open.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
