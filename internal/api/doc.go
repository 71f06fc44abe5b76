// Package api hosts the HTTP server, middleware, and handlers behind
// `unfurl serve`. Notable routes:
//   - POST /v1/unfurl rewrites a text/plain (or JSON {"text": ...}) body.
//   - GET /v1/routes lists the configured services and their endpoints.
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
package api
