// Package api hosts the HTTP server, middleware, and REST handlers for the
// audit service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/audits for creating, listing, controlling and exporting runs.
//   - GET /v1/dashboard for totals across runs.
package api
