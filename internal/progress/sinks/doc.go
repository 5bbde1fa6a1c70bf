// Package sinks implements concrete progress consumers: structured logging and
// Prometheus collectors. Each satisfies progress.Sink.
package sinks
