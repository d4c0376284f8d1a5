// Package server exposes the scheduling service over HTTP.
//
// HTTPServer serves the public API:
//   - GET / returns a greeting
//   - POST /schedule_event accepts a multipart form with an "instruction"
//     field, an optional "file" and an optional "timezone"
//   - /health, /healthz, /readyz and /healthz/detailed report process health
//
// Errors are returned as {"detail": "..."} with 400 for requests that carry
// nothing schedulable and 500 for credential or upstream failures. All routes
// allow cross-origin requests.
//
// MetricsServer serves Prometheus metrics on a separate listener so that
// operational data stays off the public port.
//
// ServerContext carries the shared scheduling service and the lifetime of
// in-flight requests; Shutdown cancels it.
package server
