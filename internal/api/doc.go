// Package api hosts the HTTP server for operator access. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sites for the active catalog.
//   - POST /v1/probes to start a background run.
//   - GET /v1/probes/{run_id} for run status and the finished report.
package api
