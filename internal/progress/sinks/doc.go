// Package sinks implements concrete progress consumers: an in-memory snapshot
// store backing the HTTP progress endpoint and a structured-logging sink. Each
// sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
