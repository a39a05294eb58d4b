package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gocloud.dev/blob/memblob"
)

func TestLocalStoreAtomicOperations(t *testing.T) {
	tmpDir := t.TempDir()

	ctx := context.Background()
	store, err := NewAtomicStore(ctx, StorageConfig{Backend: "local", LocalDir: filepath.Join(tmpDir, "out"), Prefix: "reports/"})
	if err != nil {
		t.Fatalf("NewAtomicStore failed: %v", err)
	}
	defer store.Close()

	ref := ReportRef{RunID: "run-1"}
	ledgerKey := ref.LedgerPath(store.Prefix(), "101", "parquet")
	manifestKey := ref.ManifestPath(store.Prefix())
	payload := []byte("fake parquet data for testing")

	tempLedger, err := store.WriteTemp(ctx, ledgerKey, payload)
	if err != nil {
		t.Fatalf("WriteTemp failed: %v", err)
	}
	tempManifest, err := store.WriteTemp(ctx, manifestKey, []byte(`{"run_id":"run-1"}`))
	if err != nil {
		t.Fatalf("WriteTemp manifest failed: %v", err)
	}

	if ok, _ := store.Exists(ctx, ledgerKey); ok {
		t.Error("final ledger file should not exist before Finalize")
	}
	keys, err := store.List(ctx, ref.DirPath(store.Prefix()))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List should skip temp keys, got %v", keys)
	}

	if err := store.Finalize(ctx, []string{tempLedger, tempManifest}, []string{ledgerKey, manifestKey}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	finalPath := filepath.Join(tmpDir, "out", filepath.FromSlash(ledgerKey))
	data, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("failed to read final file: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("ledger data mismatch")
	}

	for _, k := range []string{tempLedger, tempManifest} {
		if ok, _ := store.Exists(ctx, k); ok {
			t.Errorf("temp key %s should be removed after Finalize", k)
		}
	}

	if got, want := store.URI(ledgerKey), "file://"+filepath.ToSlash(filepath.Join(tmpDir, "out"))+"/"+ledgerKey; got != want {
		t.Errorf("URI = %q, want %q", got, want)
	}
}

func TestBlobStoreAbort(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(memblob.OpenBucket(nil), "mem://", "")
	defer store.Close()

	tempKey, err := store.WriteTemp(ctx, "runs/r/ledgers/1.parquet", []byte("test data"))
	if err != nil {
		t.Fatalf("WriteTemp failed: %v", err)
	}

	if err := store.Abort(ctx, []string{tempKey, "never-written"}); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if ok, _ := store.Exists(ctx, tempKey); ok {
		t.Error("temp key should be removed after Abort")
	}
}

func TestBlobStoreFinalizeKeyMismatch(t *testing.T) {
	store := NewBlobStore(memblob.OpenBucket(nil), "mem://", "")
	defer store.Close()

	if err := store.Finalize(context.Background(), []string{"a"}, []string{"a", "b"}); err == nil {
		t.Error("expected error for mismatched key lists")
	}
}

func TestBlobStoreHeadAndList(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(memblob.OpenBucket(nil), "mem://", "reports/")
	defer store.Close()

	ref := ReportRef{RunID: "run-2"}
	key := ref.LedgerPath(store.Prefix(), "7", "jsonl.zst")
	testData := []byte("test data for head test")
	if err := store.Write(ctx, key, testData); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	info, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if info.Size != int64(len(testData)) {
		t.Errorf("Head size = %d, want %d", info.Size, len(testData))
	}

	keys, err := store.List(ctx, ref.DirPath(store.Prefix()))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("List = %v, want [%s]", keys, key)
	}

	got, err := store.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != string(testData) {
		t.Errorf("Read = %q", got)
	}

	if uri := store.URI(key); uri != "mem://"+key {
		t.Errorf("URI = %q", uri)
	}
}

func TestStorageConfigURL(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StorageConfig
		want    string
		wantErr bool
	}{
		{"explicit", StorageConfig{BucketURL: "gs://x", Backend: "s3"}, "gs://x", false},
		{"gcs", StorageConfig{Backend: "gcs", GCSBucket: "reports"}, "gs://reports", false},
		{"s3 plain", StorageConfig{Backend: "s3", S3Bucket: "r"}, "s3://r", false},
		{"s3 endpoint", StorageConfig{Backend: "s3", S3Bucket: "r", S3Region: "auto", S3Endpoint: "https://minio:9000"},
			"s3://r?endpoint=https%3A%2F%2Fminio%3A9000&region=auto&s3ForcePathStyle=true", false},
		{"mem", StorageConfig{Backend: "mem"}, "mem://", false},
		{"gcs missing bucket", StorageConfig{Backend: "gcs"}, "", true},
		{"local missing dir", StorageConfig{Backend: "local"}, "", true},
		{"unknown", StorageConfig{Backend: "ftp"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.URL()
			if (err != nil) != tt.wantErr {
				t.Fatalf("URL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAsAtomic(t *testing.T) {
	store := NewBlobStore(memblob.OpenBucket(nil), "mem://", "")
	defer store.Close()

	if AsAtomic(store) == nil {
		t.Error("AsAtomic should return non-nil for BlobStore")
	}
}
