// Package progress provides the milestone records, non-blocking hub, and
// emitter interfaces that workers use to report how events move through the
// pipeline. It batches milestones on a background goroutine and fans them out
// to pluggable sinks such as Prometheus metrics or persistent storage.
package progress
