// Package blob stores run artefacts (result files and event traces) in a
// key-value object store: the local filesystem, memory, or S3.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Driver identifies a blob storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

var (
	// ErrExists is returned by Put when the key is taken.
	ErrExists = errors.New("blob already exists")
	// ErrNotFound is returned for a missing key.
	ErrNotFound = errors.New("blob not found")
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a minimal S3-like object store.
type Store interface {
	// Put stores a new blob at key and fails if the key already exists.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Delete removes a blob and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs under prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Config selects and configures a Store.
type Config struct {
	Driver Driver `json:"driver" yaml:"driver"`
	// Root is the directory for the fs driver.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`
	// Prefix is prepended to every uploaded key.
	Prefix string   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	S3     S3Config `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// Open builds the configured store. An empty driver means no store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	}
	return nil, fmt.Errorf("unknown blob driver %q (valid: fs, s3, memory)", cfg.Driver)
}

// sanitizeKey rejects empty, absolute and escaping keys.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q contains '..'", key)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	return path.Clean(filepath.ToSlash(key)), nil
}

func cloneMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// UploadFiles puts each local file under prefix/<base name> and returns
// the stored infos. metadata is attached to every object.
func UploadFiles(ctx context.Context, s Store, prefix string, files []string, metadata map[string]string) ([]Info, error) {
	infos := make([]Info, 0, len(files))
	for _, f := range files {
		info, err := uploadFile(ctx, s, path.Join(prefix, filepath.Base(f)), f, metadata)
		if err != nil {
			return infos, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func uploadFile(ctx context.Context, s Store, key, file string, metadata map[string]string) (Info, error) {
	fh, err := os.Open(file)
	if err != nil {
		return Info{}, fmt.Errorf("open artefact: %w", err)
	}
	defer fh.Close()

	ct := mime.TypeByExtension(filepath.Ext(file))
	if ct == "" {
		ct = "application/octet-stream"
	}
	info, err := s.Put(ctx, key, fh, PutOptions{ContentType: ct, Metadata: metadata})
	if err != nil {
		return Info{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return info, nil
}
