// Package checkpoint persists tracker snapshots as a JSON file beside the
// dataset. The dataset remains the source of truth for resolved work; losing
// a checkpoint only costs re-fetching Identifiers that produced no record.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/certpull/certpull/internal/scrape"
)

// Store implements scrape.CheckpointStore. Each Save overwrites the previous
// checkpoint; no history is kept.
type Store struct {
	path string
}

// NewStore builds a Store whose file sits beside the dataset at datasetPath:
// for out.csv the checkpoint is .out_checkpoint.json.
func NewStore(datasetPath string) (*Store, error) {
	if strings.TrimSpace(datasetPath) == "" {
		return nil, fmt.Errorf("dataset path is required")
	}

	dir := filepath.Dir(datasetPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(datasetPath), filepath.Ext(datasetPath))
	return &Store{
		path: filepath.Join(dir, "."+stem+"_checkpoint.json"),
	}, nil
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Save overwrites the checkpoint file with cp.
func (s *Store) Save(cp scrape.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Load reads the last checkpoint. The second return is false when no
// checkpoint file exists.
func (s *Store) Load() (scrape.Checkpoint, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return scrape.Checkpoint{}, false, nil
		}
		return scrape.Checkpoint{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp scrape.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return scrape.Checkpoint{}, false, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, true, nil
}

var _ scrape.CheckpointStore = (*Store)(nil)
