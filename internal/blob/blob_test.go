package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{"fs": fs, "memory": NewMemory()}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			info, err := s.Put(ctx, "runs/a/results.txt", strings.NewReader("hello"), PutOptions{
				ContentType: "text/plain",
				Metadata:    map[string]string{"seed": "1"},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(5), info.Size)

			_, err = s.Put(ctx, "runs/a/results.txt", strings.NewReader("again"), PutOptions{})
			assert.ErrorIs(t, err, ErrExists)

			got, rc, err := s.Get(ctx, "runs/a/results.txt")
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))
			assert.Equal(t, "text/plain", got.ContentType)
			assert.Equal(t, "1", got.Metadata["seed"])

			_, err = s.Put(ctx, "runs/b/results.txt", strings.NewReader("x"), PutOptions{})
			require.NoError(t, err)
			list, err := s.List(ctx, "runs/")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "runs/a/results.txt", list[0].Key)
			assert.Equal(t, "runs/b/results.txt", list[1].Key)

			ok, err := s.Delete(ctx, "runs/a/results.txt")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.Delete(ctx, "runs/a/results.txt")
			require.NoError(t, err)
			assert.False(t, ok)

			_, _, err = s.Get(ctx, "runs/a/results.txt")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSanitizeKey(t *testing.T) {
	for _, k := range []string{"", "  ", "../escape", "/abs", "a/../b"} {
		_, err := sanitizeKey(k)
		assert.Error(t, err, "key %q", k)
	}
	k, err := sanitizeKey("a//b/./c")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", k)
}

func TestUploadFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"results.txt", "events.jsonl"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
		files = append(files, p)
	}

	s := NewMemory()
	infos, err := UploadFiles(ctx, s, "cellsim/run-1", files, map[string]string{"run_id": "run-1"})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "cellsim/run-1/results.txt", infos[0].Key)
	assert.Equal(t, "run-1", infos[1].Metadata["run_id"])

	_, err = UploadFiles(ctx, s, "cellsim/run-1", files[:1], nil)
	assert.ErrorIs(t, err, ErrExists)

	_, err = UploadFiles(ctx, s, "x", []string{filepath.Join(dir, "missing")}, nil)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, s.Driver())

	s, err = Open(ctx, Config{Driver: DriverFilesystem, Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(ctx, Config{Driver: "gcs"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverS3})
	assert.Error(t, err, "bucket is required")
}

func TestNewS3(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	s, err := NewS3(context.Background(), S3Config{Bucket: "results", Endpoint: "http://127.0.0.1:9000", PathStyle: true})
	require.NoError(t, err)
	assert.Equal(t, DriverS3, s.Driver())
}

func TestFilesystemListSkipsSidecars(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	_, err = fs.Put(ctx, "a.txt", strings.NewReader("a"), PutOptions{})
	require.NoError(t, err)

	list, err := fs.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a.txt", list[0].Key)
}
