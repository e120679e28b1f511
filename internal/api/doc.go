// Package api hosts the admin HTTP server, middleware, and read-only REST
// handlers. Notable routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/entities lists registered entities and their columns.
//   - GET /v1/entities/{entity} pages through stored rows.
//   - GET /v1/crawls/{crawl}/pending lists frontier entries awaiting a fetch.
package api
