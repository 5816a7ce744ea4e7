// Package api hosts the optional operations HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the current pipeline state and running summary.
package api
