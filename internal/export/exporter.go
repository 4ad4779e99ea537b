// Package export mirrors persisted certificate records into Postgres so
// downstream consumers can query the dataset without touching the CSV files.
//
// The target table is expected to exist with certificate_id as its primary
// key and one column per dataset column.
package export

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/certpull/certpull/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used by the exporter.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Exporter upserts dataset records into a Postgres table. It remembers what
// it already sent, so a persist cycle only touches rows that are new or
// changed since the previous cycle.
type Exporter struct {
	pool  execCloser
	table string
	sent  map[int64]rowKey
}

type rowKey struct {
	status    string
	scrapedAt time.Time
	retries   int
}

// New creates an Exporter using the provided config.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg.Table)
}

// NewWithPool constructs an Exporter from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser, table string) (*Exporter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "certificates"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Exporter{
		pool:  pool,
		table: table,
		sent:  make(map[int64]rowKey),
	}, nil
}

// Close releases the underlying pool resources.
func (e *Exporter) Close() {
	if e == nil || e.pool == nil {
		return
	}
	e.pool.Close()
}

// Export upserts records into the table, skipping rows unchanged since the
// last call. It returns the number of rows written.
func (e *Exporter) Export(ctx context.Context, records []scrape.Record) (int, error) {
	if e == nil || e.pool == nil {
		return 0, fmt.Errorf("exporter is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	certificate_id,
	course_name,
	student_name,
	completion_date,
	duration,
	verification_url,
	status,
	scraped_at,
	retries
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (certificate_id) DO UPDATE SET
	course_name = EXCLUDED.course_name,
	student_name = EXCLUDED.student_name,
	completion_date = EXCLUDED.completion_date,
	duration = EXCLUDED.duration,
	verification_url = EXCLUDED.verification_url,
	status = EXCLUDED.status,
	scraped_at = EXCLUDED.scraped_at,
	retries = EXCLUDED.retries`, e.table)

	written := 0
	for _, rec := range records {
		key := rowKey{status: rec.Status, scrapedAt: rec.ScrapedAt, retries: rec.Retries}
		if prev, ok := e.sent[rec.ID]; ok && prev == key {
			continue
		}
		args := []any{
			rec.ID,
			rec.CourseName,
			rec.StudentName,
			rec.CompletionDate,
			rec.Duration,
			rec.VerificationURL,
			rec.Status,
			rec.ScrapedAt,
			rec.Retries,
		}
		if _, err := e.pool.Exec(ctx, query, args...); err != nil {
			return written, fmt.Errorf("upsert certificate %d: %w", rec.ID, err)
		}
		e.sent[rec.ID] = key
		written++
	}
	return written, nil
}
