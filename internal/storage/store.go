package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// ReportRef locates the objects exported for one fetch run.
type ReportRef struct {
	RunID string
}

// LedgerPath returns the storage key for one ledger's export file.
func (r ReportRef) LedgerPath(prefix, ledgerID, ext string) string {
	return fmt.Sprintf("%sruns/%s/ledgers/%s.%s", prefix, r.RunID, ledgerID, ext)
}

// ManifestPath returns the storage key for the run manifest.
func (r ReportRef) ManifestPath(prefix string) string {
	return fmt.Sprintf("%sruns/%s/_manifest.json", prefix, r.RunID)
}

// DirPath returns the directory key for the run.
func (r ReportRef) DirPath(prefix string) string {
	return fmt.Sprintf("%sruns/%s", prefix, r.RunID)
}

// ReportStore abstracts writing export payloads to object storage.
type ReportStore interface {
	// Write writes data to key.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the full contents of key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Exists checks if key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Prefix is the key prefix configured for this store.
	Prefix() string

	// Close releases any resources.
	Close() error
}

// AtomicStore extends ReportStore with staged publish.
type AtomicStore interface {
	ReportStore

	// WriteTemp writes data next to key under a unique temporary name.
	// Returns the temp key that can be passed to Finalize.
	WriteTemp(ctx context.Context, key string, data []byte) (tempKey string, err error)

	// Finalize moves every temp key to the final key at the same index.
	// If any copy fails, already published keys are removed and all temp
	// keys are aborted.
	Finalize(ctx context.Context, tempKeys, finalKeys []string) error

	// Abort removes temporary files without publishing.
	Abort(ctx context.Context, tempKeys []string) error

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local
	ModTime time.Time
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	// BucketURL, when set, is passed to gocloud as-is and the backend
	// fields below are ignored.
	BucketURL string

	Backend string // "local" | "gcs" | "s3" | "mem"

	// Local filesystem
	LocalDir string

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Common
	Prefix string // "reports/" (path prefix within the bucket)
}

// URL resolves the configuration to a gocloud bucket URL.
func (cfg StorageConfig) URL() (string, error) {
	if cfg.BucketURL != "" {
		return cfg.BucketURL, nil
	}
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return "", fmt.Errorf("LocalDir required for local backend")
		}
		abs, err := filepath.Abs(cfg.LocalDir)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", cfg.LocalDir, err)
		}
		return "file://" + filepath.ToSlash(abs), nil
	case "gcs":
		if cfg.GCSBucket == "" {
			return "", fmt.Errorf("GCSBucket required for gcs backend")
		}
		return fmt.Sprintf("gs://%s", cfg.GCSBucket), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return "", fmt.Errorf("S3Bucket required for s3 backend")
		}
		bucketURL := fmt.Sprintf("s3://%s", cfg.S3Bucket)
		params := url.Values{}
		if cfg.S3Region != "" {
			params.Set("region", cfg.S3Region)
		}
		if cfg.S3Endpoint != "" {
			params.Set("endpoint", cfg.S3Endpoint)
			params.Set("s3ForcePathStyle", "true")
		}
		if len(params) > 0 {
			bucketURL = bucketURL + "?" + params.Encode()
		}
		return bucketURL, nil
	case "mem":
		return "mem://", nil
	default:
		return "", fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// NewAtomicStore opens the configured bucket.
func NewAtomicStore(ctx context.Context, cfg StorageConfig) (AtomicStore, error) {
	bucketURL, err := cfg.URL()
	if err != nil {
		return nil, err
	}
	return OpenBlobStore(ctx, bucketURL, cfg.Prefix)
}

// AsAtomic attempts to cast a ReportStore to AtomicStore.
// Returns nil if the store doesn't support staged publish.
func AsAtomic(store ReportStore) AtomicStore {
	if atomic, ok := store.(AtomicStore); ok {
		return atomic
	}
	return nil
}
