// Package dataset persists the certificate record set as a CSV file with a
// temp/backup generation scheme, so that a crash at any point leaves either
// the previous dataset or the new one fully intact on disk.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/scrape"
)

// Hasher produces the integrity digest stored in checkpoints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Store implements scrape.DatasetStore on top of a single CSV file. Writes go
// through a hidden temp file and an atomic rename; the previous generation is
// kept as a sibling backup file.
//
// Store is not safe for concurrent use. The engine serializes all calls
// between batch barriers.
type Store struct {
	path       string
	tempPath   string
	backupPath string
	hasher     Hasher
	clock      scrape.Clock
	logger     *zap.Logger
}

// NewStore builds a Store for the dataset at path, creating the parent
// directory if needed. Sibling files are derived from the dataset name: for
// out.csv the temp file is .out_temp.csv and the backup is out_backup.csv.
func NewStore(path string, hasher Hasher, clock scrape.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("dataset path is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create dataset directory: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Store{
		path:       path,
		tempPath:   filepath.Join(dir, "."+stem+"_temp.csv"),
		backupPath: filepath.Join(dir, stem+"_backup.csv"),
		hasher:     hasher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Path returns the primary dataset location.
func (s *Store) Path() string {
	return s.path
}

// Persist atomically replaces the dataset with records. The sequence is:
// write temp, re-read temp to validate it, back up the current dataset, then
// rename temp over the primary. A failure at any step leaves the previous
// dataset untouched.
func (s *Store) Persist(records []scrape.Record) error {
	data, err := encode(records)
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	if err := os.WriteFile(s.tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp dataset: %w", err)
	}
	if _, err := s.readFile(s.tempPath); err != nil {
		_ = os.Remove(s.tempPath)
		return fmt.Errorf("temp dataset failed validation: %w", err)
	}
	if err := s.Backup(); err != nil {
		_ = os.Remove(s.tempPath)
		return fmt.Errorf("failed to back up dataset: %w", err)
	}
	if err := os.Rename(s.tempPath, s.path); err != nil {
		s.restoreFromBackup()
		return fmt.Errorf("failed to replace dataset: %w", err)
	}
	return nil
}

// Load reads the dataset back, keeping the last row per Identifier. A
// corrupted or missing primary falls back to the backup generation, and a
// usable backup is copied back over the primary. Neither file existing is a
// fresh start, not an error.
func (s *Store) Load() ([]scrape.Record, error) {
	records, primaryErr := s.readFile(s.path)
	if primaryErr == nil {
		return dedupe(records), nil
	}
	if !errors.Is(primaryErr, os.ErrNotExist) {
		s.logger.Warn("dataset unreadable, trying backup",
			zap.String("path", s.path),
			zap.Error(primaryErr))
	}

	records, backupErr := s.readFile(s.backupPath)
	if backupErr != nil {
		if errors.Is(primaryErr, os.ErrNotExist) && errors.Is(backupErr, os.ErrNotExist) {
			return nil, nil
		}
		if errors.Is(primaryErr, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load backup dataset: %w", backupErr)
		}
		return nil, fmt.Errorf("failed to load dataset: %w", primaryErr)
	}

	if err := copyFile(s.backupPath, s.path); err != nil {
		s.logger.Warn("failed to restore dataset from backup", zap.Error(err))
	} else {
		s.logger.Info("dataset restored from backup",
			zap.String("path", s.path),
			zap.Int("records", len(records)))
	}
	return dedupe(records), nil
}

// Backup copies the current dataset to the backup path. A missing primary is
// a no-op.
func (s *Store) Backup() error {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat dataset: %w", err)
	}
	if err := copyFile(s.path, s.backupPath); err != nil {
		return fmt.Errorf("failed to copy dataset to backup: %w", err)
	}
	return nil
}

// Digest returns the hex digest of the dataset file as it exists on disk, or
// an empty string when the file does not exist.
func (s *Store) Digest() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read dataset: %w", err)
	}
	digest, err := s.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("failed to hash dataset: %w", err)
	}
	return digest, nil
}

// EmergencyDump writes records to a timestamped sibling file that never
// collides with the primary/backup pair, and returns its path. It is the last
// resort when the normal persist path is broken.
func (s *Store) EmergencyDump(records []scrape.Record) (string, error) {
	data, err := encode(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode emergency dump: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	name := fmt.Sprintf("%s_emergency_%s.csv", stem, s.clock.Now().Format("20060102_150405"))
	path := filepath.Join(filepath.Dir(s.path), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write emergency dump: %w", err)
	}
	return path, nil
}

func (s *Store) readFile(path string) ([]scrape.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *Store) restoreFromBackup() {
	if _, err := os.Stat(s.backupPath); err != nil {
		return
	}
	if err := copyFile(s.backupPath, s.path); err != nil {
		s.logger.Error("failed to restore dataset from backup", zap.Error(err))
		return
	}
	s.logger.Info("dataset restored from backup after failed persist")
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

var _ scrape.DatasetStore = (*Store)(nil)
