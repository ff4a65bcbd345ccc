package output

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshots() []Snapshot {
	return []Snapshot{
		{Step: 0, Time: 0, Records: []Record{
			{Time: 0, CellID: 0, Location: 0, Position: []float64{0, 0}, Ancestor: 0, Mutation: "wild_type", Phase: "G1", ProliferativeType: "stem", Age: 1},
		}},
		{Step: 8, Time: 4, Records: []Record{
			{Time: 4, CellID: 0, Location: 0, Position: []float64{-0.15, 0}, Ancestor: 0, Mutation: "wild_type", Phase: "M", ProliferativeType: "stem", Age: 0},
			{Time: 4, CellID: 1, Location: 1, Position: []float64{0.15, 0}, Ancestor: 0, Mutation: "wild_type", Phase: "M", ProliferativeType: "transit", Age: 0},
		}},
	}
}

func writeAll(t *testing.T, s Sink) {
	t.Helper()
	for _, snap := range sampleSnapshots() {
		require.NoError(t, s.WriteSnapshot(context.Background(), snap))
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestTextSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, TextFile)
	s, err := NewTextSink(path)
	require.NoError(t, err)
	writeAll(t, s)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "results must not appear before Close")

	require.NoError(t, s.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "# step"))
	assert.Equal(t, "8\t4\t1\t1\t0.15,0\t0\twild_type\tM\ttransit\t0", lines[3])
	assert.Equal(t, []string{TextFile}, dirEntries(t, dir))

	assert.ErrorIs(t, s.WriteSnapshot(context.Background(), Snapshot{}), ErrClosed)
}

func TestTextSinkAbort(t *testing.T) {
	dir := t.TempDir()
	s, err := NewTextSink(filepath.Join(dir, TextFile))
	require.NoError(t, err)
	writeAll(t, s)

	require.NoError(t, s.Abort())
	assert.Empty(t, dirEntries(t, dir))
	require.NoError(t, s.Abort(), "abort is idempotent")
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), SQLiteFile)
	s, err := NewSQLiteSink(ctx, path, RunInfo{ID: "run-1", Seed: 42})
	require.NoError(t, err)
	writeAll(t, s)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cell_records WHERE run_id = 'run-1'`).Scan(&n))
	assert.Equal(t, 3, n)

	var status string
	var seed int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT status, seed FROM runs WHERE id = 'run-1'`).Scan(&status, &seed))
	assert.Equal(t, "complete", status)
	assert.Equal(t, int64(42), seed)

	var z sql.NullFloat64
	var y float64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT y, z FROM cell_records WHERE run_id = 'run-1' AND step = 8 AND cell_id = 1`).Scan(&y, &z))
	assert.Equal(t, 0.0, y)
	assert.False(t, z.Valid, "2D positions leave z NULL")
}

func TestSQLiteSinkAbortRollsBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), SQLiteFile)

	s, err := NewSQLiteSink(ctx, path, RunInfo{ID: "kept"})
	require.NoError(t, err)
	writeAll(t, s)
	require.NoError(t, s.Close())

	s, err = NewSQLiteSink(ctx, path, RunInfo{ID: "failed"})
	require.NoError(t, err)
	writeAll(t, s)
	require.NoError(t, s.Abort())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var runs, records int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&runs))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cell_records`).Scan(&records))
	assert.Equal(t, 1, runs)
	assert.Equal(t, 3, records)
}

func TestSQLiteSinkRejectsDuplicateRun(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), SQLiteFile)
	s, err := NewSQLiteSink(ctx, path, RunInfo{ID: "same"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewSQLiteSink(ctx, path, RunInfo{ID: "same"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := `INSERT INTO runs (id, seed) VALUES (?, ?)`
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, `INSERT INTO runs (id, seed) VALUES ($1, $2)`, postgresDialect.rebind(q))
}

func TestArrowSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ArrowFile)
	s, err := NewArrowSink(path)
	require.NoError(t, err)
	writeAll(t, s)
	require.NoError(t, s.Close())
	assert.Equal(t, []string{ArrowFile}, dirEntries(t, dir))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 2, r.NumRecords())
	rec, err := r.Record(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.NumRows())
	ids := rec.Column(2).(*array.Uint64)
	assert.Equal(t, uint64(1), ids.Value(1))
	muts := rec.Column(6).(*array.String)
	assert.Equal(t, "wild_type", muts.Value(0))
}

func TestArrowSinkAbort(t *testing.T) {
	dir := t.TempDir()
	s, err := NewArrowSink(filepath.Join(dir, ArrowFile))
	require.NoError(t, err)
	writeAll(t, s)
	require.NoError(t, s.Abort())
	assert.Empty(t, dirEntries(t, dir))
}

func TestMemorySink(t *testing.T) {
	m := NewMemorySink()
	writeAll(t, m)
	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, 8, last.Step)
	assert.Len(t, m.Snapshots(), 2)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.ErrorIs(t, m.WriteSnapshot(context.Background(), Snapshot{}), ErrClosed)

	m = NewMemorySink()
	writeAll(t, m)
	require.NoError(t, m.Abort())
	assert.True(t, m.Aborted())
	assert.Empty(t, m.Snapshots())
}

func TestMemorySinkCopiesPositions(t *testing.T) {
	m := NewMemorySink()
	pos := []float64{1, 2}
	require.NoError(t, m.WriteSnapshot(context.Background(), Snapshot{Records: []Record{{Position: pos}}}))
	pos[0] = 99
	last, _ := m.Last()
	assert.Equal(t, []float64{1, 2}, last.Records[0].Position)
}

type failingSink struct {
	MemorySink
}

func (*failingSink) Close() error { return errors.New("disk full") }

func TestMultiSinkCloseFailureAbortsTheRest(t *testing.T) {
	first := NewMemorySink()
	bad := &failingSink{}
	last := NewMemorySink()
	m := NewMultiSink(first, bad, last)
	writeAll(t, m)

	err := m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, first.Closed())
	assert.True(t, last.Aborted())
}

func TestMultiSinkAbort(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	m := NewMultiSink(a, b)
	writeAll(t, m)
	require.NoError(t, m.Abort())
	assert.True(t, a.Aborted())
	assert.True(t, b.Aborted())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")
	s, err := Open(ctx, Options{Dir: dir, Formats: []string{FormatText, FormatSQLite, FormatArrow}}, RunInfo{ID: "r"})
	require.NoError(t, err)
	writeAll(t, s)
	require.NoError(t, s.Close())

	for _, f := range Files(dir, []string{FormatText, FormatSQLite, FormatArrow, FormatPostgres}) {
		_, err := os.Stat(f)
		assert.NoError(t, err, f)
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Open(ctx, Options{Dir: dir, Formats: []string{FormatText, "parquet"}}, RunInfo{ID: "r"})
	assert.Error(t, err)
	assert.Empty(t, dirEntries(t, dir), "sinks opened before the failure are aborted")

	_, err = Open(ctx, Options{Dir: dir, Formats: []string{FormatPostgres}}, RunInfo{ID: "r"})
	assert.Error(t, err)

	s, err := Open(ctx, Options{}, RunInfo{})
	require.NoError(t, err)
	assert.IsType(t, &MemorySink{}, s)
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("Arrow"))
	assert.False(t, ValidFormat("csv"))
}
