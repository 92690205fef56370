// Package api hosts the HTTP server, middleware, and REST handlers for the
// progress demo. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/progress and /api/progress/stream for the coordinator state,
//     the latter as server-sent events.
//   - POST /api/progress/{start,set,inc,complete,reset} for manual control.
//   - POST /api/navigate and /api/simulate/... to drive the other sources.
//   - GET /api/sessions and /api/sessions/{session_id} for recorded display
//     sessions via the SessionRepository interface.
package api
