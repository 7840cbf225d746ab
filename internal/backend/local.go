package backend

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// MetadataSuffix is appended to an object path for its metadata sidecar
const MetadataSuffix = ".metadata"

// LocalTransfer stores objects on the local filesystem under root
type LocalTransfer struct {
	root string
}

// NewLocalTransfer creates the root directory when missing
func NewLocalTransfer(root string) (*LocalTransfer, error) {
	if root == "" {
		return nil, errors.New("local storage root is not configured")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local storage root: %w", err)
	}
	return &LocalTransfer{root: root}, nil
}

// Put writes the object through a temp file and renames it into place
func (t *LocalTransfer) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, metadata map[string]string) (*PutResult, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(t.root, filepath.FromSlash(key))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	hasher := md5.New()
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), &contextReader{ctx: ctx, r: body})
	if err != nil {
		return nil, fmt.Errorf("failed to write data: %w", err)
	}
	if size >= 0 && written != size {
		return nil, fmt.Errorf("short write: expected %d bytes, wrote %d", size, written)
	}
	if err := tempFile.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync data: %w", err)
	}
	tempFile.Close()

	etag := hex.EncodeToString(hasher.Sum(nil))
	meta := make(map[string]string, len(metadata)+3)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["content-type"] = contentType
	meta["etag"] = etag
	meta["size"] = fmt.Sprintf("%d", written)

	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(fullPath+MetadataSuffix, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := os.Rename(tempFile.Name(), fullPath); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &PutResult{
		Location: "file://" + filepath.ToSlash(fullPath),
		ETag:     etag,
		Size:     written,
	}, nil
}

// Probe checks that the root is a writable directory with free space. It
// does not write anything.
func (t *LocalTransfer) Probe(ctx context.Context) error {
	info, err := os.Stat(t.root)
	if err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", t.root)
	}
	if info.Mode().Perm()&0200 == 0 {
		return fmt.Errorf("storage root %s is not writable", t.root)
	}

	usage, err := disk.UsageWithContext(ctx, t.root)
	if err != nil {
		return fmt.Errorf("failed to read disk usage: %w", err)
	}
	if usage.Free == 0 {
		return fmt.Errorf("no free space left on %s", usage.Path)
	}
	return nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return ErrInvalidKey
		}
	}
	if strings.HasSuffix(key, MetadataSuffix) {
		return ErrInvalidKey
	}
	return nil
}

// contextReader stops a copy once ctx is cancelled
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
