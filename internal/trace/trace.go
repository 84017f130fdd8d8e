// Package trace reads lookup traces and feeds their keys to a consumer.
package trace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/tstromberg/gocachereplay/internal/workload"
)

// maxLine bounds a single trace line.
const maxLine = 1 << 20

// Source yields trace keys in order.
type Source interface {
	// Next returns the next key. A blank line yields an empty key.
	Next() (string, bool)
	Err() error
	Close() error
}

// Reader parses a text trace: one record per line, whitespace separated, first
// token is the key. Any further tokens are ignored.
type Reader struct {
	sc     *bufio.Scanner
	closer func() error
}

// NewReader parses a trace from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Reader{sc: sc, closer: func() error { return nil }}
}

// Open opens a trace file. Files ending in .zst or .zstd are decompressed.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path) //nolint:gosec // trace path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	if !strings.HasSuffix(path, ".zst") && !strings.HasSuffix(path, ".zstd") {
		r := NewReader(f)
		r.closer = f.Close
		return r, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	r := NewReader(dec)
	r.closer = func() error {
		dec.Close()
		return f.Close()
	}
	return r, nil
}

func (r *Reader) Next() (string, bool) {
	if !r.sc.Scan() {
		return "", false
	}
	fields := strings.Fields(r.sc.Text())
	if len(fields) == 0 {
		return "", true
	}
	return fields[0], true
}

func (r *Reader) Err() error {
	if err := r.sc.Err(); err != nil {
		return fmt.Errorf("read trace: %w", err)
	}
	return nil
}

func (r *Reader) Close() error {
	return r.closer()
}

// Zipf is a synthetic trace of n keys drawn with Zipfian skew.
type Zipf struct {
	gen  *workload.Zipf
	n    int
	done int
}

// NewZipf returns a trace of n keys from keySpace with skew theta. The same seed
// always yields the same trace.
func NewZipf(n, keySpace int, theta float64, seed uint64) (*Zipf, error) {
	gen, err := workload.NewZipf(keySpace, theta, seed)
	if err != nil {
		return nil, err
	}
	return &Zipf{gen: gen, n: max(n, 0)}, nil
}

func (z *Zipf) Next() (string, bool) {
	if z.done >= z.n {
		return "", false
	}
	z.done++
	return z.gen.Key(), true
}

func (*Zipf) Err() error   { return nil }
func (*Zipf) Close() error { return nil }

// Len returns the number of keys in the trace.
func (z *Zipf) Len() int { return z.n }

// ErrStop can be returned by a Feed callback to end the feed early without error.
var ErrStop = errors.New("trace: stop")

// Feed calls fn for each key of src with 1-based sequence numbers, stopping
// after limit keys when limit > 0. It returns the number of keys fed.
func Feed(ctx context.Context, src Source, limit int, fn func(ctx context.Context, key string, seq uint64) error) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		key, ok := src.Next()
		if !ok {
			break
		}
		n++
		if err := fn(ctx, key, uint64(n)); err != nil {
			if errors.Is(err, ErrStop) {
				return n, nil
			}
			return n, err
		}
	}
	return n, src.Err()
}
