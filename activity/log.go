// Package activity is a bounded in-memory ring of recent order/trade/
// cancel events read through Recent, plus a best-effort
// append-only JSONL file that is the audit record of record, grounded on
// original_source/orderbook/app.py's `activity_log = deque(maxlen=1000)`
// and `append_activity_file`.
package activity

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ledgerbridge/crossbook/types"
)

// DefaultCapacity mirrors the original's deque(maxlen=1000).
const DefaultCapacity = 1000

// Log holds recent activity in memory and mirrors every record to an
// append-only JSONL file. The file write is best-effort: a failure there
// is logged but never returned to the caller, matching the original's
// bare `except Exception` swallow around append_activity_file.
type Log struct {
	mu       sync.Mutex
	capacity int
	records  []types.ActivityRecord // ring buffer, oldest first

	path string
	file *os.File
	w    *bufio.Writer
}

// Open constructs a Log with the given ring capacity, appending to (and
// creating if absent) the JSONL file at path. If path is empty, the Log
// keeps only the in-memory ring and never writes to disk.
func Open(path string, capacity int) (*Log, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{capacity: capacity, path: path}
	if path == "" {
		return l, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	return l, nil
}

// Record appends rec to the in-memory ring (evicting the oldest entry past
// capacity) and mirrors it to the JSONL file.
func (l *Log) Record(rec types.ActivityRecord) {
	l.mu.Lock()
	l.records = append(l.records, rec)
	if len(l.records) > l.capacity {
		l.records = l.records[len(l.records)-l.capacity:]
	}
	l.mu.Unlock()

	if l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("activity log: marshal failed")
		return
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		log.Error().Err(err).Str("path", l.path).Msg("activity log: file write failed")
		return
	}
	if err := l.w.Flush(); err != nil {
		log.Error().Err(err).Str("path", l.path).Msg("activity log: flush failed")
	}
}

// Recent returns up to limit of the most recently recorded activity
// records, newest last (same order the ring holds them in). limit <= 0
// returns the full ring.
func (l *Log) Recent(limit int) []types.ActivityRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit >= len(l.records) {
		out := make([]types.ActivityRecord, len(l.records))
		copy(out, l.records)
		return out
	}
	start := len(l.records) - limit
	out := make([]types.ActivityRecord, limit)
	copy(out, l.records[start:])
	return out
}

// ReadFile re-reads the JSONL file from disk line by line, filtering to
// kind (all kinds if empty) and symbol (every symbol if empty) and trimming
// to the last limit matches, the same pass app.py's order_history endpoint
// makes over ACTIVITY_LOG_PATH on every request rather than serving the
// in-memory ring. A log opened without a path (path == "") has nothing to
// read and returns an empty result, not an error.
func (l *Log) ReadFile(symbol string, limit int, kind types.ActivityKind) ([]types.ActivityRecord, error) {
	if l.path == "" {
		return nil, nil
	}

	l.mu.Lock()
	if l.w != nil {
		_ = l.w.Flush()
	}
	l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []types.ActivityRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec types.ActivityRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		if symbol != "" && !strings.EqualFold(rec.Symbol, symbol) {
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close flushes and closes the backing file, if any.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
