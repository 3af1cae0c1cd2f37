// Package httputil holds the JSON response writers, request parsers and
// server middleware shared by gatekeeper's HTTP surface.
//
// Errors are always rendered as ErrorResponse:
//
//	{"error": "Bad Request", "message": "permissions is required"}
//
// The server stacks the middleware like this:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
