package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileBackup saves events to local files for audit.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./notify-backup"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir}, nil
}

// Path returns the backup file for evt: {run_id}.json
func (f *FileBackup) Path(evt *ReportEvent) string {
	return filepath.Join(f.dir, evt.Run.RunID+".json")
}

// Save writes an event to a local JSON file.
func (f *FileBackup) Save(evt *ReportEvent) error {
	path := f.Path(evt)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	slog.Debug("event backed up", "component", "notify", "path", path)
	return nil
}

// FileOnlyEmitter writes events to files only.
// Used when no endpoint is configured.
type FileOnlyEmitter struct {
	chains *ReportChains
	backup *FileBackup
}

// NewFileOnlyEmitter creates an emitter that only writes to local files.
func NewFileOnlyEmitter(backupDir string) (*FileOnlyEmitter, error) {
	chains, err := OpenReportChains(backupDir)
	if err != nil {
		return nil, err
	}

	backup, err := NewFileBackup(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &FileOnlyEmitter{
		chains: chains,
		backup: backup,
	}, nil
}

// EmitReportReady writes the event to a local file.
func (e *FileOnlyEmitter) EmitReportReady(_ context.Context, evt *ReportEvent) error {
	caller, err := prepare(evt, e.chains)
	if err != nil {
		return err
	}

	slog.Info("file-only emit", "component", "notify", "run_id", evt.Run.RunID,
		"caller", caller, "sequence", evt.Chain.Sequence, "event_hash", evt.Chain.EventHash)

	if err := e.backup.Save(evt); err != nil {
		return err
	}

	if err := e.chains.Advance(caller, evt); err != nil {
		slog.Warn("failed to update chain head", "component", "notify", "error", err)
	}
	return nil
}

// Close releases resources.
func (e *FileOnlyEmitter) Close() error {
	return nil
}
