// Package runlog records one CSV line per processed work item.
package runlog

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tstromberg/gocachereplay/internal/queue"
)

// Header is the first line of every run log.
const Header = "cache_action,thread_number,count,delta_time,key,value"

// Action is the outcome of a lookup.
type Action int

const (
	Miss Action = iota
	Hit
)

func (a Action) String() string {
	if a == Hit {
		return "hit"
	}
	return "miss"
}

// Record describes one completed work item.
type Record struct {
	Action   Action
	Worker   int
	Sequence uint64
	Latency  time.Duration
	Key      string
	Value    []byte
}

// Fields returns the CSV fields in header order. Values are hex encoded.
func (r Record) Fields() []string {
	return []string{
		r.Action.String(),
		strconv.Itoa(r.Worker),
		strconv.FormatUint(r.Sequence, 10),
		FormatLatency(r.Latency),
		r.Key,
		hex.EncodeToString(r.Value),
	}
}

// FormatLatency renders d in milliseconds with four decimals.
func FormatLatency(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 4, 64)
}

// FileName returns the log name for a run: <trace>_<DD_MM_YYYY_HH_MM>_<tag>.log.
func FileName(trace, tag string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s.log", filepath.Base(trace), t.Format("02_01_2006_15_04"), tag)
}

// Create opens a fresh log file in dir.
func Create(dir, trace, tag string, now time.Time) (*os.File, error) {
	path := filepath.Join(dir, FileName(trace, tag, now))
	f, err := os.Create(path) //nolint:gosec // path built from operator-supplied directory
	if err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}
	return f, nil
}

// Writer drains records to CSV, flushing after every line.
type Writer struct {
	w     *csv.Writer
	count atomic.Int64
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// Run writes the header, then every record popped from q, until q is closed and
// empty. poll bounds each wait on the queue.
func (w *Writer) Run(q *queue.Unbounded[Record], poll time.Duration) error {
	if err := w.writeLine([]string{
		"cache_action", "thread_number", "count", "delta_time", "key", "value",
	}); err != nil {
		return err
	}

	for {
		rec, err := q.Pop(poll)
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil
		case errors.Is(err, queue.ErrTimeout):
			continue
		case err != nil:
			return err
		}
		if err := w.writeLine(rec.Fields()); err != nil {
			return err
		}
		w.count.Add(1)
	}
}

func (w *Writer) writeLine(fields []string) error {
	if err := w.w.Write(fields); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("flush run log: %w", err)
	}
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() int64 {
	return w.count.Load()
}
