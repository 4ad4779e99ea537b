package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/certpull/certpull/internal/scrape"
)

// header is the column layout of the dataset file. Readers locate columns by
// name, so files written by older tools with extra or reordered columns still
// load.
var header = []string{
	"Certificate ID",
	"Course Name",
	"Student Name",
	"Completion Date",
	"Duration",
	"Verification URL",
	"Status",
	"Scraped At",
	"Retry Count",
}

// requiredColumns must all be present for a file to be considered a dataset.
// Retry Count is optional; early datasets predate it.
var requiredColumns = header[:8]

func encode(records []scrape.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.CourseName,
			rec.StudentName,
			rec.CompletionDate,
			rec.Duration,
			rec.VerificationURL,
			rec.Status,
			rec.ScrapedAt.Format(time.RFC3339),
			strconv.Itoa(rec.Retries),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row for id %d: %w", rec.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush rows: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) ([]scrape.Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("file has no header row")
	}

	idx := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		idx[strings.TrimSpace(name)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	records := make([]scrape.Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		id, err := strconv.ParseInt(strings.TrimSpace(field(row, "Certificate ID")), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d has invalid certificate id: %w", n+2, err)
		}
		rec := scrape.Record{
			ID:              id,
			CourseName:      field(row, "Course Name"),
			StudentName:     field(row, "Student Name"),
			CompletionDate:  field(row, "Completion Date"),
			Duration:        field(row, "Duration"),
			VerificationURL: field(row, "Verification URL"),
			Status:          field(row, "Status"),
		}
		if ts, err := time.Parse(time.RFC3339, field(row, "Scraped At")); err == nil {
			rec.ScrapedAt = ts
		}
		if retries, err := strconv.Atoi(field(row, "Retry Count")); err == nil {
			rec.Retries = retries
		}
		records = append(records, rec)
	}
	return records, nil
}

// dedupe keeps the last row per Identifier and returns the survivors sorted by
// Identifier. Duplicates only appear in files touched by older tools; the
// engine itself writes each Identifier once.
func dedupe(records []scrape.Record) []scrape.Record {
	byID := make(map[int64]scrape.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	out := make([]scrape.Record, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
