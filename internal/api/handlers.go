package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"zowie-bridge/internal/observability/logging"
	"zowie-bridge/internal/playback"
	"zowie-bridge/internal/relay"
)

// Pinger reports whether an optional dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Relay    *relay.Manager
	Player   *playback.Player
	Registry Pinger
	Logger   *slog.Logger
}

func NewHandler(manager *relay.Manager, player *playback.Player, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if player == nil && manager != nil {
		player = playback.NewPlayer(manager, nil, logger)
	}
	return &Handler{Relay: manager, Player: player, Logger: logger}
}

func (h *Handler) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.Logger)
}

type conversionRequest struct {
	Source string `json:"source"`
}

type conversionResponse struct {
	Identifier   string `json:"identifier"`
	TransportURL string `json:"transportUrl"`
}

type teardownResponse struct {
	Removed int `json:"removed"`
}

type removalResponse struct {
	Identifier string `json:"identifier"`
	Status     string `json:"status"`
}

var errPrepareStream = errors.New("could not prepare stream")

// Conversions handles the collection: POST converts a source, GET lists the
// cache and DELETE tears every cached conversion down.
func (h *Handler) Conversions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createConversion(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Relay.Snapshot())
	case http.MethodDelete:
		removed := h.Relay.Flush(r.Context())
		h.logger(r.Context()).Info("conversion cache flushed", "removed", removed)
		writeJSON(w, http.StatusOK, teardownResponse{Removed: removed})
	default:
		methodNotAllowed(w, r, "GET, POST, DELETE")
	}
}

func (h *Handler) createConversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteRequestError(w, ValidationError(err.Error()))
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		WriteRequestError(w, ValidationError("source is required"))
		return
	}

	transportURL, ok := h.Relay.Convert(r.Context(), source)
	if !ok {
		writeError(w, http.StatusBadGateway, errPrepareStream)
		return
	}
	writeJSON(w, http.StatusOK, conversionResponse{
		Identifier:   identifierFromTransportURL(transportURL),
		TransportURL: transportURL,
	})
}

// ConversionByID handles DELETE /v1/conversions/{id}.
func (h *Handler) ConversionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/conversions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		WriteRequestError(w, NotFoundError("conversion id missing"))
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, "DELETE")
		return
	}

	outcome, cached := h.Relay.Remove(r.Context(), id)
	if !cached {
		WriteRequestError(w, NotFoundError(fmt.Sprintf("conversion %s not found", id)))
		return
	}
	status := http.StatusOK
	if outcome.Status == relay.OutcomeFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, removalResponse{Identifier: id, Status: outcome.Status.String()})
}

// CameraConversion handles POST /v1/cameras/{id}/conversion.
func (h *Handler) CameraConversion(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/cameras/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "conversion" {
		WriteRequestError(w, NotFoundError("unknown camera path"))
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	cameraID := parts[0]

	if !h.Relay.Available(r.Context()) {
		WriteRequestError(w, NotFoundError("relay not available"))
		return
	}
	transportURL, ok := h.Relay.ConvertCamera(r.Context(), cameraID)
	if !ok {
		WriteRequestError(w, NotFoundError(fmt.Sprintf("camera %s could not be converted", cameraID)))
		return
	}
	writeJSON(w, http.StatusOK, conversionResponse{
		Identifier:   identifierFromTransportURL(transportURL),
		TransportURL: transportURL,
	})
}

type playbackRequest struct {
	MediaType string `json:"mediaType"`
	MediaID   string `json:"mediaId"`
}

// PlaybackPlan resolves a media request to the URL and stream type the
// appliance would be given.
func (h *Handler) PlaybackPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req playbackRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteRequestError(w, ValidationError(err.Error()))
		return
	}
	mediaID := strings.TrimSpace(req.MediaID)
	if mediaID == "" {
		WriteRequestError(w, ValidationError("mediaId is required"))
		return
	}

	plan, err := h.Player.Plan(r.Context(), strings.TrimSpace(req.MediaType), mediaID)
	switch {
	case errors.Is(err, playback.ErrRelayUnavailable):
		WriteRequestError(w, ServiceUnavailableError(err.Error()))
		return
	case errors.Is(err, playback.ErrConversionFailed):
		writeError(w, http.StatusBadGateway, err)
		return
	case err != nil:
		WriteRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// identifierFromTransportURL returns the final path segment of a transport URL.
func identifierFromTransportURL(transportURL string) string {
	if idx := strings.LastIndex(transportURL, "/"); idx >= 0 {
		return transportURL[idx+1:]
	}
	return transportURL
}
