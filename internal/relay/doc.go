// Package relay manages conversion jobs on an external stream relay so that
// sources the appliance cannot decode natively (HLS manifests, camera
// resources, HTTP streams) are exposed to it as plain RTSP.
//
// Three pieces cooperate:
//
//   - Locator decides whether a relay is present and where it lives. A relay
//     bound to a loopback address is colocated with this host, so the
//     appliance is pointed at this host's LAN address instead; an external
//     relay is dialed directly on its published transport port.
//
//   - Client speaks the relay's management API (register and deregister a
//     named stream) with a bounded per-call timeout. Registration is never
//     retried.
//
//   - Manager caches one ManagedConversion per derived identifier, refreshes
//     its last-used time on reuse, and runs a reaper that deregisters entries
//     idle past the retention window. Stop joins the reaper before tearing
//     down every remaining entry.
//
// Failures never cross the Manager's public boundary as errors. Convert
// reports absence with ok == false, and deregistration returns an Outcome
// that cleanup paths log and discard.
package relay
