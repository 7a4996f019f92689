// Package heartbeat records loop liveness to a well-known status file.
// Each write overwrites the previous record. Writes are best-effort and
// never fail the caller.
package heartbeat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the loop phase recorded in the heartbeat.
type Status string

const (
	StatusWaking   Status = "waking"
	StatusSleeping Status = "sleeping"
)

// TimeFormat renders the heartbeat timestamp in local time.
const TimeFormat = "2006-01-02 15:04:05"

// Record is one heartbeat.
type Record struct {
	Time       time.Time
	Loop       int
	Status     Status
	LastAction string
}

// Render produces the four-line on-disk form.
func (r Record) Render() []byte {
	return fmt.Appendf(nil, "%s\nloop: %d\nstatus: %s\nlast_action: %s\n",
		r.Time.Format(TimeFormat), r.Loop, r.Status, r.LastAction)
}

// Sink receives rendered heartbeats. Overwrite replaces any previous
// content.
type Sink interface {
	Overwrite(data []byte) error
}

// FileSink writes the heartbeat to a file, creating its directory.
type FileSink struct {
	Path string
}

// Overwrite replaces the file contents.
func (s FileSink) Overwrite(data []byte) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.Path, data, 0644)
}

// MemorySink keeps the last heartbeat in memory.
type MemorySink struct {
	mu   sync.Mutex
	last []byte
	n    int
}

// Overwrite stores data.
func (s *MemorySink) Overwrite(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = append([]byte(nil), data...)
	s.n++
	return nil
}

// Last returns the most recent heartbeat text.
func (s *MemorySink) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.last)
}

// Writes returns how many heartbeats were written.
func (s *MemorySink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Writer stamps and writes heartbeat records.
type Writer struct {
	sink   Sink
	now    func() time.Time
	logger *slog.Logger
}

// NewWriter creates a Writer. A nil now uses time.Now.
func NewWriter(sink Sink, now func() time.Time, logger *slog.Logger) *Writer {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{sink: sink, now: now, logger: logger}
}

// Write records loop progress. Failures are logged at debug level and
// otherwise ignored.
func (w *Writer) Write(loop int, status Status, action string) {
	rec := Record{Time: w.now(), Loop: loop, Status: status, LastAction: action}
	if err := w.sink.Overwrite(rec.Render()); err != nil {
		w.logger.Debug("heartbeat write failed", "error", err, "loop", loop, "status", status)
	}
}
