// Package api hosts the HTTP server, middleware, and REST handlers for the
// mirror service. Notable routes:
//   - GET /healthz / readyz for probes; readyz fails while the crawl program
//     is missing.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/triggers for content-change hooks, debounced into one run.
//   - POST /v1/mirrors/run, POST /v1/mirrors/expire and GET /v1/mirrors for
//     operators.
//   - GET /v1/status, GET /v1/preview and /v1/settings for diagnostics and
//     configuration.
package api
