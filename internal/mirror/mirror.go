// Package mirror uploads dataset snapshots to Google Cloud Storage after
// successful persist cycles, keeping an off-host history of the dataset.
package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/certpull/certpull/internal/scrape"
)

// Config captures the GCS destination for dataset snapshots.
type Config struct {
	Bucket string
	Prefix string
}

// Mirror copies the dataset file into a GCS bucket. Every upload gets a
// timestamped object name, so successive snapshots never overwrite each
// other.
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
	clock  scrape.Clock
}

// New creates a GCS-backed Mirror.
func New(client *storage.Client, cfg Config, clock scrape.Clock) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		clock:  clock,
	}, nil
}

// Upload copies the dataset file at path into the bucket and returns its
// gs:// URI.
func (m *Mirror) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open dataset: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	name := ObjectName(m.prefix, filepath.Base(path), m.clock.Now())
	writer := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "text/csv"
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy snapshot: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", m.bucket, name), nil
}

// ObjectName builds the timestamped object name for a snapshot of the named
// dataset file: <prefix>/<stem>_YYYYMMDD_HHMMSS.csv in UTC.
func ObjectName(prefix, base string, at time.Time) string {
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s/%s_%s.csv", prefix, stem, at.UTC().Format("20060102_150405"))
}
