package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// ArrowSchema is the columnar layout of a result file: one row per cell
// per sampled step, one record batch per snapshot.
var ArrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "step", Type: arrow.PrimitiveTypes.Int64},
	{Name: "time", Type: arrow.PrimitiveTypes.Float64},
	{Name: "cell_id", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "location", Type: arrow.PrimitiveTypes.Int64},
	{Name: "position", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	{Name: "ancestor", Type: arrow.PrimitiveTypes.Int64},
	{Name: "mutation", Type: arrow.BinaryTypes.String},
	{Name: "phase", Type: arrow.BinaryTypes.String},
	{Name: "proliferative_type", Type: arrow.BinaryTypes.String},
	{Name: "age", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// ArrowSink writes an Arrow IPC file to a temporary path and renames it
// into place on Close.
type ArrowSink struct {
	mu   sync.Mutex
	path string
	tmp  *os.File
	mem  memory.Allocator
	w    *ipc.FileWriter
}

// NewArrowSink starts an Arrow result file destined for path.
func NewArrowSink(path string) (*ArrowSink, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp results: %w", err)
	}
	mem := memory.NewGoAllocator()
	w, err := ipc.NewFileWriter(tmp, ipc.WithSchema(ArrowSchema), ipc.WithAllocator(mem))
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("create arrow writer: %w", err)
	}
	return &ArrowSink{path: path, tmp: tmp, mem: mem, w: w}, nil
}

func (s *ArrowSink) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return ErrClosed
	}

	b := array.NewRecordBuilder(s.mem, ArrowSchema)
	defer b.Release()

	step := b.Field(0).(*array.Int64Builder)
	tm := b.Field(1).(*array.Float64Builder)
	id := b.Field(2).(*array.Uint64Builder)
	loc := b.Field(3).(*array.Int64Builder)
	pos := b.Field(4).(*array.ListBuilder)
	posValues := pos.ValueBuilder().(*array.Float64Builder)
	anc := b.Field(5).(*array.Int64Builder)
	mut := b.Field(6).(*array.StringBuilder)
	phase := b.Field(7).(*array.StringBuilder)
	ptype := b.Field(8).(*array.StringBuilder)
	age := b.Field(9).(*array.Float64Builder)

	for _, r := range snap.Records {
		step.Append(int64(snap.Step))
		tm.Append(snap.Time)
		id.Append(r.CellID)
		loc.Append(int64(r.Location))
		pos.Append(true)
		posValues.AppendValues(r.Position, nil)
		anc.Append(r.Ancestor)
		mut.Append(r.Mutation)
		phase.Append(r.Phase)
		ptype.Append(r.ProliferativeType)
		age.Append(r.Age)
	}

	rec := b.NewRecord()
	defer rec.Release()
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("write arrow batch for step %d: %w", snap.Step, err)
	}
	return nil
}

// Path returns the final result path.
func (s *ArrowSink) Path() string { return s.path }

func (s *ArrowSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return ErrClosed
	}
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("close arrow writer: %w", err)
	}
	s.w = nil
	if err := s.tmp.Close(); err != nil {
		return fmt.Errorf("close arrow results: %w", err)
	}
	if err := os.Rename(s.tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publish arrow results: %w", err)
	}
	s.tmp = nil
	return nil
}

func (s *ArrowSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tmp == nil {
		return nil
	}
	if s.w != nil {
		_ = s.w.Close()
		s.w = nil
	}
	name := s.tmp.Name()
	s.tmp.Close()
	s.tmp = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp results: %w", err)
	}
	return nil
}
