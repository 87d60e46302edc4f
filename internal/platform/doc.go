// Package platform provides the host automation platform as seen by the
// relay cache: which capabilities are registered, where the relay is
// configured, how this host is reached from the LAN, and which camera
// resources exist.
//
// StaticHost answers from process configuration and local interface
// discovery. RedisHost answers from a registry shared through Redis so
// several bridge processes agree on the same relay and cameras; it falls
// back to a StaticHost for this host's own address.
package platform
