// Package httputil provides the JSON response helpers, query parsing and
// middleware shared by the change log HTTP handlers.
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.ConcurrencyLimitMiddleware(cfg.Server.MaxConcurrentRequests),
//		httputil.TimeoutMiddleware(cfg.Server.RequestTimeout),
//	)(router)
package httputil
