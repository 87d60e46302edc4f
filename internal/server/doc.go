// Package server exposes the bridge API from a single HTTP server.
//
// Every route shares one middleware chain: request IDs, request logging,
// metrics, security headers and rate limiting. Conversion requests get an
// additional per-client limit because each miss registers a stream with the
// relay. /metrics and /healthz are served without request logging.
package server
