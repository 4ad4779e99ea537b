// Package api hosts the operational HTTP server for a scrape run. Notable
// routes:
//   - GET /healthz and /readyz for liveness/readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for a JSON snapshot of the active run, folded from the
//     progress event stream.
package api
