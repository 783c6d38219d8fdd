// Package httpmw holds the middleware of the public upload server.
//
// httpserver.NewHandler composes it outermost first: security headers,
// panic recovery, request id, client address, rate limiting, tracing,
// metrics and the request logger. Inside the chi router AccessLog and
// AnnotateHTTPRoute see the matched route. MaxBody and Scope are applied
// per route.
//
// Client supplied query strings, headers and host names never reach the
// logs.
package httpmw
