package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpointer persists the event-scan cursor so restarts do not rescan
// block ranges that were already covered.
type Checkpointer interface {
	LastScanned(ctx context.Context) (uint64, bool, error)
	SaveScanned(ctx context.Context, block uint64) error
}

// FileCheckpoint stores the scan cursor as a small JSON file. A disabled
// checkpoint reports no cursor and discards saves.
type FileCheckpoint struct {
	path    string
	enabled bool
}

type scanCursor struct {
	LastScannedBlock uint64 `json:"last_scanned_block"`
	UpdatedAt        string `json:"updated_at"`
}

func NewFileCheckpoint(path string, enabled bool) *FileCheckpoint {
	return &FileCheckpoint{path: path, enabled: enabled}
}

var _ Checkpointer = (*FileCheckpoint)(nil)

func (c *FileCheckpoint) LastScanned(_ context.Context) (uint64, bool, error) {
	if !c.enabled {
		return 0, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cursor scanCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}

	return cursor.LastScannedBlock, true, nil
}

func (c *FileCheckpoint) SaveScanned(_ context.Context, block uint64) error {
	if !c.enabled {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cursor := scanCursor{
		LastScannedBlock: block,
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}
