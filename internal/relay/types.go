package relay

import (
	"context"
	"time"
)

const (
	// DefaultStreamPrefix prefixes every derived stream identifier.
	DefaultStreamPrefix = "zowietek_"

	// ColocatedTransportPort is the RTSP port of a relay running beside us.
	ColocatedTransportPort = 18554
	// ExternalTransportPort is the relay's standard published RTSP port.
	ExternalTransportPort = 8554
	// ColocatedAPIPort is the management port assumed when no relay URL is configured.
	ColocatedAPIPort = 11984

	loopbackHost = "127.0.0.1"

	// CameraSourceScheme marks a camera resource handed to the relay's ffmpeg source.
	CameraSourceScheme = "ffmpeg:"
)

// ManagedConversion is one live registration with the relay.
type ManagedConversion struct {
	Identifier   string    `json:"identifier"`
	Source       string    `json:"source"`
	TransportURL string    `json:"transportUrl"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
}

// Addressing is the resolved network position of the relay.
type Addressing struct {
	ManagementURL string `json:"managementUrl"`
	TransportHost string `json:"transportHost"`
	TransportPort int    `json:"transportPort"`
	Colocated     bool   `json:"colocated"`
}

// Descriptor is the relay configuration reported by the host platform.
type Descriptor struct {
	URL string
}

// Platform is the slice of the host automation platform the relay cache
// depends on.
type Platform interface {
	// RelayPresent reports whether the relay capability is registered.
	RelayPresent(ctx context.Context) bool
	// RelayDescriptor returns the configured relay, if any.
	RelayDescriptor(ctx context.Context) (Descriptor, bool)
	// ResolveInternalURL returns this host's LAN-reachable base URL.
	ResolveInternalURL(ctx context.Context) (string, error)
	// HasResource reports whether a resource (e.g. a camera) exists.
	HasResource(ctx context.Context, id string) bool
}

// OutcomeStatus classifies a deregistration attempt.
type OutcomeStatus int

const (
	OutcomeRemoved OutcomeStatus = iota
	OutcomeAlreadyGone
	OutcomeFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeRemoved:
		return "removed"
	case OutcomeAlreadyGone:
		return "not_found"
	default:
		return "failed"
	}
}

// Outcome is the result of a deregistration. Cleanup paths log it and move
// on; it is never turned back into an error.
type Outcome struct {
	Identifier string
	Status     OutcomeStatus
	Err        error
}

// OK reports whether the relay no longer holds the stream.
func (o Outcome) OK() bool {
	return o.Status != OutcomeFailed
}
