// Package scrape implements the resilient fetch-and-persist engine: bounded
// concurrent retrieval over a numeric identifier range, retry/backoff
// classification, incremental checkpointing, and crash-safe aggregation.
package scrape

import (
	"fmt"
	"sort"
	"time"
)

// Config holds the settings for one scrape run. It is decoupled from Viper so
// the engine can be constructed and tested without any config machinery.
type Config struct {
	BaseURL     string
	StartID     int64
	EndID       int64
	Concurrency int
	MaxRetries  int
	BatchSize   int
}

// Validate rejects configurations that must never reach the network.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.StartID < 1 {
		return fmt.Errorf("start id must be >= 1, got %d", c.StartID)
	}
	if c.EndID < c.StartID {
		return fmt.Errorf("end id %d must be >= start id %d", c.EndID, c.StartID)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0, got %d", c.Concurrency)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be > 0, got %d", c.MaxRetries)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", c.BatchSize)
	}
	return nil
}

// Fields are the attributes pulled out of one certificate page by an Extractor.
type Fields struct {
	CourseName     string
	StudentName    string
	CompletionDate string
	Duration       string
}

// Record is one row of the dataset, keyed by Identifier. At most one live
// Record exists per Identifier; a later write overwrites an earlier one.
type Record struct {
	ID              int64
	CourseName      string
	StudentName     string
	CompletionDate  string
	Duration        string
	VerificationURL string
	Status          string
	ScrapedAt       time.Time
	Retries         int
}

// Checkpoint is a point-in-time serialization of tracker state plus summary
// counters. It is superseded by the next checkpoint; no history is retained.
type Checkpoint struct {
	TotalScraped   int       `json:"total_scraped"`
	TotalProcessed int       `json:"total_processed"`
	ProcessedIDs   []int64   `json:"processed_ids"`
	FailedIDs      []int64   `json:"failed_ids"`
	LastSave       time.Time `json:"last_save"`
	DatasetDigest  string    `json:"dataset_digest"`
}

// RecordSet is the working, in-memory record collection. It is mutated only by
// the engine between batch barriers, so it carries no locking.
type RecordSet struct {
	records map[int64]Record
	dirty   bool
}

// NewRecordSet returns an empty working set.
func NewRecordSet() *RecordSet {
	return &RecordSet{records: make(map[int64]Record)}
}

// Put inserts or overwrites the record for its Identifier and marks the set
// dirty so the next persist cycle writes the dataset.
func (s *RecordSet) Put(rec Record) {
	s.records[rec.ID] = rec
	s.dirty = true
}

// Seed loads recovered records without marking the set dirty. Later entries
// win when the input contains duplicate Identifiers.
func (s *RecordSet) Seed(recs []Record) {
	for _, rec := range recs {
		s.records[rec.ID] = rec
	}
}

// Len reports the number of live records.
func (s *RecordSet) Len() int {
	return len(s.records)
}

// Dirty reports whether the set changed since the last MarkClean.
func (s *RecordSet) Dirty() bool {
	return s.dirty
}

// MarkClean is called after a successful dataset write.
func (s *RecordSet) MarkClean() {
	s.dirty = false
}

// Sorted returns the records in ascending Identifier order.
func (s *RecordSet) Sorted() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Summary aggregates the counters reported at the end of a run.
type Summary struct {
	Processed  int
	Resolved   int
	Failed     int
	Succeeded  int
	NoData     int
	NotFound   int
	HTTPErrors int
}
