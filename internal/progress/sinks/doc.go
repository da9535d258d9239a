// Package sinks holds the progress.Sink implementations wired by the server:
// trace persistence, Prometheus stage metrics and a zap log line per milestone.
package sinks
