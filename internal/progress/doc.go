// Package progress carries crawl milestones from workers to observers. Workers
// emit events through a non-blocking Hub, which batches them on a background
// goroutine and hands each batch to pluggable sinks (structured logs,
// Prometheus collectors).
package progress
