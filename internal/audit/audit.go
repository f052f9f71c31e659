// Package audit is the append-only trade-log sink (§4.10): one JSON line
// per executed swing action, written for forensics only and never read
// back on start. Rotates to a new file per UTC day.
//
// store.Store gets crash-safety from write-tmp-then-rename because it
// overwrites one whole file per key; an append-only log can't use that
// trick without rewriting the whole file on every entry, so instead each
// line is written in one Write call and fsynced immediately, keeping a
// torn write to at most the final line.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"swing-core/internal/clock"
)

// Entry is one recorded trade-log line.
type Entry struct {
	Kind   string    `json:"kind"`
	Symbol string    `json:"symbol"`
	Side   string    `json:"side"`
	Qty    float64   `json:"qty"`
	Price  float64   `json:"price"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Logger appends Entry values to a JSONL file, rotating at UTC-day
// boundaries, and keeps an in-memory tail for the engine's snapshot.
type Logger struct {
	dir     string
	maxTail int
	clock   clock.Clock
	logger  loggerIface

	mu   sync.Mutex
	day  string
	file *os.File
	tail []Entry
}

// loggerIface avoids importing log/slog just for the Error method shape;
// callers pass a *slog.Logger which satisfies this.
type loggerIface interface {
	Error(msg string, args ...any)
}

// New opens (creating if absent) the audit directory. maxTail bounds the
// in-memory snapshot tail (config's max_log_entries).
func New(dir string, maxTail int, clk clock.Clock, logger loggerIface) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	if maxTail <= 0 {
		maxTail = 200
	}
	return &Logger{dir: dir, maxTail: maxTail, clock: clk, logger: logger}, nil
}

// Record appends entry to today's file and updates the in-memory tail.
// Write failures are logged, not returned: a forensic-log outage must
// never stop the engine from trading.
func (l *Logger) Record(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tail = append(l.tail, entry)
	if len(l.tail) > l.maxTail {
		l.tail = l.tail[len(l.tail)-l.maxTail:]
	}

	if err := l.writeLine(entry); err != nil {
		l.logger.Error("audit: failed to persist trade log entry", "error", err)
	}
}

// Tail returns a copy of the most recent entries, oldest first.
func (l *Logger) Tail() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.tail))
	copy(out, l.tail)
	return out
}

func (l *Logger) writeLine(entry Entry) error {
	day := l.clock.Now().UTC().Format("2006-01-02")
	if day != l.day {
		if l.file != nil {
			l.file.Close()
		}
		path := filepath.Join(l.dir, "trades_"+day+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open trade log: %w", err)
		}
		l.file = f
		l.day = day
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file, if open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
