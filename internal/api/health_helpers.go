package api

import (
	"context"
	"net/http"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type relayStatus struct {
	Available     bool   `json:"available"`
	ManagementURL string `json:"managementUrl,omitempty"`
	TransportHost string `json:"transportHost,omitempty"`
	TransportPort int    `json:"transportPort,omitempty"`
	Colocated     bool   `json:"colocated"`
}

type healthResponse struct {
	Status            string            `json:"status"`
	Relay             relayStatus       `json:"relay"`
	ActiveConversions int               `json:"activeConversions"`
	Components        []componentStatus `json:"components"`
}

// Health reports relay availability and addressing. An absent relay is not
// a failure; an unreachable platform registry is.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, "GET, HEAD")
		return
	}
	ctx := r.Context()
	components, status, code := h.componentHealth(ctx)
	writeJSON(w, code, healthResponse{
		Status:            status,
		Relay:             h.relayStatus(ctx),
		ActiveConversions: h.Relay.Len(),
		Components:        components,
	})
}

func (h *Handler) relayStatus(ctx context.Context) relayStatus {
	if !h.Relay.Available(ctx) {
		return relayStatus{}
	}
	addressing, err := h.Relay.Addressing(ctx)
	if err != nil {
		h.logger(ctx).Warn("relay addressing unavailable", "error", err)
		return relayStatus{Available: true}
	}
	return relayStatus{
		Available:     true,
		ManagementURL: addressing.ManagementURL,
		TransportHost: addressing.TransportHost,
		TransportPort: addressing.TransportPort,
		Colocated:     addressing.Colocated,
	}
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 2)
	relayComponent := componentStatus{Component: "relay", Status: "ok"}
	if !h.Relay.Available(ctx) {
		relayComponent.Status = "unavailable"
	}
	components = append(components, relayComponent)

	if h.Registry != nil {
		components = append(components, recordComponent("platform_registry", h.Registry.Ping(ctx)))
	}
	return components, overallStatus, statusCode
}
