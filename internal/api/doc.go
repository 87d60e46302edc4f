// Package api hosts the bridge's JSON HTTP handlers.
//
// Handler fronts a relay.Manager and a playback.Player supplied at
// construction time: callers can request conversions for arbitrary sources
// or known camera resources, inspect and tear down the conversion cache, and
// resolve a playback plan without touching an appliance. Handlers assume the
// middleware chain from internal/server has already assigned request IDs and
// attached request-scoped loggers.
package api
