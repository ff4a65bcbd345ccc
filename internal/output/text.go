package output

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// textHeader names the tab-separated columns of a text result file.
const textHeader = "# step\ttime\tcell_id\tlocation\tposition\tancestor\tmutation\tphase\tproliferative_type\tage\n"

// TextSink writes tab-separated records to a temporary file next to the
// destination and renames it into place on Close.
type TextSink struct {
	mu   sync.Mutex
	path string
	tmp  *os.File
	w    *bufio.Writer
}

// NewTextSink starts a text result file destined for path.
func NewTextSink(path string) (*TextSink, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp results: %w", err)
	}
	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(textHeader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return &TextSink{path: path, tmp: tmp, w: w}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (s *TextSink) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tmp == nil {
		return ErrClosed
	}

	for _, r := range snap.Records {
		pos := make([]string, len(r.Position))
		for i, x := range r.Position {
			pos[i] = formatFloat(x)
		}
		_, err := fmt.Fprintf(s.w, "%d\t%s\t%d\t%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			snap.Step, formatFloat(snap.Time), r.CellID, r.Location, strings.Join(pos, ","),
			r.Ancestor, r.Mutation, r.Phase, r.ProliferativeType, formatFloat(r.Age))
		if err != nil {
			return fmt.Errorf("write text record: %w", err)
		}
	}
	return nil
}

// Path returns the final result path.
func (s *TextSink) Path() string { return s.path }

func (s *TextSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tmp == nil {
		return ErrClosed
	}
	tmp := s.tmp
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush text results: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync text results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close text results: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publish text results: %w", err)
	}
	s.tmp = nil
	return nil
}

func (s *TextSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tmp == nil {
		return nil
	}
	name := s.tmp.Name()
	s.tmp.Close()
	s.tmp = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp results: %w", err)
	}
	return nil
}
