// Package api hosts the operator HTTP endpoint. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/pool for live session usage.
//   - GET /v1/run for the current or last run.
package api
