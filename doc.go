// certpull scrapes the data.edu.az certificate registry over a numeric ID
// range and accumulates the extracted records into a durable CSV dataset.
//
// Architecture overview:
//   - Engine: internal/scrape drives one run end to end. It recovers prior
//     state from the CSV dataset and the JSON checkpoint, walks the remaining
//     IDs in batches, fans fetches out through a semaphore-bounded governor,
//     and persists after every batch. The final persist always runs, including
//     on cancellation and panic.
//   - Fetch pipeline: internal/transport issues Colly-based GETs behind a
//     shared rate limiter; internal/scrape.Worker classifies each response
//     (success, no data, not found, HTTP error, timeout, network error, rate
//     limited), retries transient classes with capped exponential backoff, and
//     hands page bodies to the goquery extractor in internal/extract.
//   - Persistence: internal/dataset writes the CSV atomically (temp file,
//     re-read validation, backup generation, rename) and recovers from the
//     backup when the primary is corrupt. internal/checkpoint snapshots
//     tracker state so interrupted runs resume instead of refetching.
//   - Fanout: when enabled, each successful persist is followed by a Postgres
//     upsert of the records (internal/export), a timestamped GCS copy of the
//     dataset (internal/mirror), and a Pub/Sub summary message
//     (internal/notify). Failures there are logged and never fail the cycle.
//   - Observability: zap structured logs throughout; Prometheus collectors in
//     internal/metrics; a progress hub batching lifecycle events to log,
//     snapshot, and Prometheus sinks; an optional chi ops server exposing
//     /healthz, /readyz, /metrics, and /progress.
//   - Configuration: Viper merges built-in defaults, an optional config file,
//     and CERTPULL_* environment variables.
//
// Operational notes:
//   - SIGINT/SIGTERM stop a run cleanly: in-flight fetches finish, a final
//     persist and checkpoint run, then the process exits.
//   - Re-running over the same range is idempotent; already-processed IDs are
//     skipped via the recovered tracker.
//   - `certpull discover --end N` binary-searches for the live ID range so a
//     scrape can be scoped to IDs that actually exist.
package main
