// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the scrape engine uses to report run progress. It batches events on
// a background goroutine and fans them out to pluggable sinks such as the API
// snapshot store or structured logging.
package progress
