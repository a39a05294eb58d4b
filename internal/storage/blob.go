package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"
)

// BlobStore writes report objects through a gocloud bucket.
type BlobStore struct {
	bucket *blob.Bucket
	base   string
	prefix string
}

// OpenBlobStore opens bucketURL (file://, gs://, s3://, mem://).
// Local directories are created if missing.
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse bucket url %s: %w", bucketURL, err)
	}
	if u.Scheme == "file" {
		if err := os.MkdirAll(u.Path, 0755); err != nil {
			return nil, fmt.Errorf("create base directory %s: %w", u.Path, err)
		}
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBlobStore(bucket, baseURI(u), prefix), nil
}

// NewBlobStore wraps an already opened bucket.
func NewBlobStore(bucket *blob.Bucket, base, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, base: base, prefix: prefix}
}

func baseURI(u *url.URL) string {
	switch u.Scheme {
	case "file":
		return "file://" + u.Path
	case "mem":
		return "mem://"
	default:
		return u.Scheme + "://" + u.Host
	}
}

// Write writes data to key.
func (s *BlobStore) Write(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	return nil
}

// Read returns the contents of key.
func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if key is present.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	if strings.HasSuffix(s.base, "://") {
		return s.base + key
	}
	return s.base + "/" + key
}

// Prefix returns the configured key prefix.
func (s *BlobStore) Prefix() string {
	return s.prefix
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// --- AtomicStore implementation ---

// WriteTemp writes data to a temporary key beside key.
func (s *BlobStore) WriteTemp(ctx context.Context, key string, data []byte) (string, error) {
	tempKey := key + ".tmp." + uuid.New().String()
	if err := s.Write(ctx, tempKey, data); err != nil {
		return "", err
	}
	return tempKey, nil
}

// Finalize moves temp keys to their final keys using copy + delete.
func (s *BlobStore) Finalize(ctx context.Context, tempKeys, finalKeys []string) error {
	if len(tempKeys) != len(finalKeys) {
		return fmt.Errorf("expected %d temp keys, got %d", len(finalKeys), len(tempKeys))
	}

	for i, tempKey := range tempKeys {
		finalKey := finalKeys[i]

		if err := s.bucket.Copy(ctx, finalKey, tempKey, nil); err != nil {
			// Rollback: delete any copied objects
			for j := 0; j < i; j++ {
				s.bucket.Delete(ctx, finalKeys[j])
			}
			s.Abort(ctx, tempKeys)
			return fmt.Errorf("finalize %s -> %s: %w", tempKey, finalKey, err)
		}
	}

	for _, tempKey := range tempKeys {
		s.bucket.Delete(ctx, tempKey) // ignore errors
	}

	return nil
}

// Abort removes temporary files without publishing. Missing keys are not
// an error.
func (s *BlobStore) Abort(ctx context.Context, tempKeys []string) error {
	var lastErr error
	for _, key := range tempKeys {
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			lastErr = err
		}
	}
	return lastErr
}

// Head returns metadata about a stored object.
func (s *BlobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix, skipping in-flight temp keys.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir || strings.Contains(obj.Key, ".tmp.") {
			continue
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

var _ AtomicStore = (*BlobStore)(nil)
