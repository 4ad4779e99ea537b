package export

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/certpull/certpull/internal/scrape"
)

func sampleRecord(id int64) scrape.Record {
	return scrape.Record{
		ID:              id,
		CourseName:      "Data Analitikası",
		StudentName:     "Orxan Həsənli",
		CompletionDate:  "15.03.2025",
		Duration:        "40 saat",
		VerificationURL: "https://data.edu.az/en/verify-certificate/101",
		Status:          "Success",
		ScrapedAt:       time.Unix(1700000000, 0).UTC(),
	}
}

func TestExportUpsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exporter, err := NewWithPool(mock, "certificates")
	require.NoError(t, err)

	rec := sampleRecord(101)
	mock.ExpectExec("INSERT INTO certificates").
		WithArgs(
			rec.ID,
			rec.CourseName,
			rec.StudentName,
			rec.CompletionDate,
			rec.Duration,
			rec.VerificationURL,
			rec.Status,
			rec.ScrapedAt,
			rec.Retries,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	written, err := exporter.Export(context.Background(), []scrape.Record{rec})
	require.NoError(t, err)
	require.Equal(t, 1, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportSkipsUnchangedRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exporter, err := NewWithPool(mock, "certificates")
	require.NoError(t, err)

	rec := sampleRecord(101)
	mock.ExpectExec("INSERT INTO certificates").
		WithArgs(
			rec.ID, rec.CourseName, rec.StudentName, rec.CompletionDate, rec.Duration,
			rec.VerificationURL, rec.Status, rec.ScrapedAt, rec.Retries,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	written, err := exporter.Export(context.Background(), []scrape.Record{rec})
	require.NoError(t, err)
	require.Equal(t, 1, written)

	// Same row again: nothing to send.
	written, err = exporter.Export(context.Background(), []scrape.Record{rec})
	require.NoError(t, err)
	require.Equal(t, 0, written)

	// A re-scrape with a new status must go out again.
	changed := rec
	changed.Status = "HTTP 500"
	changed.Retries = 2
	mock.ExpectExec("INSERT INTO certificates").
		WithArgs(
			changed.ID, changed.CourseName, changed.StudentName, changed.CompletionDate, changed.Duration,
			changed.VerificationURL, changed.Status, changed.ScrapedAt, changed.Retries,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	written, err = exporter.Export(context.Background(), []scrape.Record{changed})
	require.NoError(t, err)
	require.Equal(t, 1, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportStopsOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exporter, err := NewWithPool(mock, "certificates")
	require.NoError(t, err)

	first := sampleRecord(1)
	second := sampleRecord(2)
	mock.ExpectExec("INSERT INTO certificates").
		WithArgs(
			first.ID, first.CourseName, first.StudentName, first.CompletionDate, first.Duration,
			first.VerificationURL, first.Status, first.ScrapedAt, first.Retries,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO certificates").
		WithArgs(
			second.ID, second.CourseName, second.StudentName, second.CompletionDate, second.Duration,
			second.VerificationURL, second.Status, second.ScrapedAt, second.Retries,
		).
		WillReturnError(context.DeadlineExceeded)

	written, err := exporter.Export(context.Background(), []scrape.Record{first, second})
	require.Error(t, err)
	require.Equal(t, 1, written)
	require.Contains(t, err.Error(), "upsert certificate 2")

	// The failed row was not remembered and is retried next cycle.
	mock.ExpectExec("INSERT INTO certificates").
		WithArgs(
			second.ID, second.CourseName, second.StudentName, second.CompletionDate, second.Duration,
			second.VerificationURL, second.Status, second.ScrapedAt, second.Retries,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	written, err = exporter.Export(context.Background(), []scrape.Record{first, second})
	require.NoError(t, err)
	require.Equal(t, 1, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-table;drop")
	require.Error(t, err)

	_, err = NewWithPool(nil, "certificates")
	require.Error(t, err)

	exporter, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "certificates", exporter.table)
}
