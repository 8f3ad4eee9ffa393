// Package api hosts the operator HTTP surface that runs alongside the crawl
// loop:
//   - GET /healthz for liveness probes.
//   - GET /status for the orchestrator phase, current task and last run.
//   - GET /metrics for Prometheus scraping.
package api
