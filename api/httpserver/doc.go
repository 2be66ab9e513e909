// Package httpserver provides the reusable HTTP server shell for TrafficFlo-Z
// services.
//
// BaseServer wires a chi router with standard middleware, structured request
// logging, health endpoints, an optional Prometheus metrics server, and
// graceful shutdown. Components contribute their endpoints through the
// RouteRegistrar interface and stay unaware of server lifecycle.
//
// Every server gets, in addition to registrar routes:
//
//   - /livez: liveness check
//   - /readyz: readiness check, toggled by drain state
//   - /drain, /undrain: load-balancer rotation control
//   - /debug: pprof, when enabled
//
// Typical use:
//
//	srv, err := httpserver.New(cfg, facade)
//	if err != nil { ... }
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
