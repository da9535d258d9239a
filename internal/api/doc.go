// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/events to submit one event or a batch.
//   - GET /v1/events/{event_id} for the stored record and
//     /v1/events/{event_id}/trace for its measured stage deltas.
//   - GET /v1/runs and /v1/stats/steps for trace reporting via
//     store.TraceRepository.
//   - GET /v1/pipeline and POST /v1/pipeline/simulate to inspect the pipeline
//     in force.
package api
