// Package middleware provides net/http middleware for the diagnostic
// endpoint.
//
// This package includes:
//   - Prometheus request metrics
//   - OpenTelemetry tracing
//
// # Prometheus Metrics
//
// Requests are counted by route pattern, method and status, and timed by
// route pattern:
//
//	r := chi.NewRouter()
//	r.Use(middleware.Prometheus(
//	    middleware.WithRegistry(state.Registry()),
//	))
//
// Route patterns come from chi, so /debug/clients and /debug/globals are
// separate series while unknown paths collapse into one.
//
// # OpenTelemetry Tracing
//
// Every request gets a server span named after its method and route:
//
//	r.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("kestrel"),
//	))
//
// The tracer comes from the global provider; without one configured the
// spans are no-ops.
package middleware
