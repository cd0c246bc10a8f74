// Package api hosts the HTTP server for the screenshot service. Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /v1/jobs to submit a capture, GET /v1/jobs[/{job_id}] to poll,
//     POST /v1/jobs/{job_id}/cancel, GET /v1/jobs/{job_id}/stream (websocket).
//   - GET /v1/screenshots and /v1/screenshots/index to browse the gallery,
//     DELETE /v1/screenshots/* to prune it.
//   - /v1/domains to manage the tracked domain list.
package api
