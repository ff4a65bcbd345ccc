// Package output persists population snapshots. A run writes through one
// Sink; Close makes the results durable and Abort discards everything the
// run wrote, so a failed run leaves no partial result behind.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrClosed is returned when writing to a sink after Close or Abort.
var ErrClosed = errors.New("output sink closed")

// Record is one live cell at one sampled time.
type Record struct {
	Time              float64   `json:"time"`
	CellID            uint64    `json:"cell_id"`
	Location          int       `json:"location"`
	Position          []float64 `json:"position"`
	Ancestor          int64     `json:"ancestor"`
	Mutation          string    `json:"mutation"`
	Phase             string    `json:"phase"`
	ProliferativeType string    `json:"proliferative_type"`
	Age               float64   `json:"age"`
}

// Snapshot is every live cell at one sampled step.
type Snapshot struct {
	Step    int      `json:"step"`
	Time    float64  `json:"time"`
	Records []Record `json:"records"`
}

// Sink receives snapshots for one run.
type Sink interface {
	WriteSnapshot(ctx context.Context, s Snapshot) error
	// Close makes the written results durable.
	Close() error
	// Abort discards the results. It is safe to call after Close fails.
	Abort() error
}

// RunInfo identifies the run a sink writes for.
type RunInfo struct {
	ID   string
	Seed uint64
}

// Formats accepted by Open.
const (
	FormatText     = "text"
	FormatSQLite   = "sqlite"
	FormatArrow    = "arrow"
	FormatPostgres = "postgres"
)

// Result file names inside the output directory.
const (
	TextFile   = "results.txt"
	SQLiteFile = "results.db"
	ArrowFile  = "results.arrow"
)

// Options selects the sinks Open builds.
type Options struct {
	Dir         string
	Formats     []string
	PostgresDSN string
}

// Open builds a sink writing every requested format for run. With one
// format the sink is returned directly; with several they are fanned out.
func Open(ctx context.Context, opts Options, run RunInfo) (Sink, error) {
	if len(opts.Formats) == 0 {
		return NewMemorySink(), nil
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	var sinks []Sink
	fail := func(err error) (Sink, error) {
		for _, s := range sinks {
			_ = s.Abort()
		}
		return nil, err
	}
	for _, f := range opts.Formats {
		var (
			s   Sink
			err error
		)
		switch strings.ToLower(f) {
		case FormatText:
			s, err = NewTextSink(filepath.Join(opts.Dir, TextFile))
		case FormatSQLite:
			s, err = NewSQLiteSink(ctx, filepath.Join(opts.Dir, SQLiteFile), run)
		case FormatArrow:
			s, err = NewArrowSink(filepath.Join(opts.Dir, ArrowFile))
		case FormatPostgres:
			if opts.PostgresDSN == "" {
				err = errors.New("postgres output needs a DSN")
			} else {
				s, err = NewPostgresSink(ctx, opts.PostgresDSN, run)
			}
		default:
			err = fmt.Errorf("unknown output format %q (valid: text, sqlite, arrow, postgres)", f)
		}
		if err != nil {
			return fail(fmt.Errorf("open %s output: %w", f, err))
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}

// ValidFormat reports whether f names a known format.
func ValidFormat(f string) bool {
	switch strings.ToLower(f) {
	case FormatText, FormatSQLite, FormatArrow, FormatPostgres:
		return true
	}
	return false
}

// Files returns the result files Open writes in dir for formats, in the
// order the formats were given. Postgres writes no file.
func Files(dir string, formats []string) []string {
	var out []string
	for _, f := range formats {
		switch strings.ToLower(f) {
		case FormatText:
			out = append(out, filepath.Join(dir, TextFile))
		case FormatSQLite:
			out = append(out, filepath.Join(dir, SQLiteFile))
		case FormatArrow:
			out = append(out, filepath.Join(dir, ArrowFile))
		}
	}
	return out
}
