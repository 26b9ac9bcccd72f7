// Package api assembles the change log HTTP API.
//
// # Overview
//
// Server mounts the route groups of the other packages on one gorilla/mux
// router and wraps it in the shared middleware chain:
//
//   - /api/changelog: history queries, ingestion and export (pkg/audit)
//   - /api/changelog/cleanup: manual purge (pkg/retention)
//   - /api/analytics: summaries, trends and dashboards (pkg/analytics)
//
// Middleware, outermost first: request ID, access log, panic recovery,
// request timeout, concurrency limit, request provenance.
//
// # Usage Example
//
//	server := api.NewServer(api.Deps{
//		Service:   service,
//		Engine:    engine,
//		Retention: manager,
//		Logger:    logger,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Related Packages
//
//   - pkg/httputil: middleware and response helpers
//   - pkg/observability: metrics and tracing
package api
