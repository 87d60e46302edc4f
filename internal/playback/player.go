package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zowie-bridge/internal/observability/logging"
)

// ManagedSourceName names the appliance source the bridge loads arbitrary
// URLs into.
const ManagedSourceName = "Home Assistant"

var (
	ErrRelayUnavailable = errors.New("relay is required but not available")
	ErrConversionFailed = errors.New("relay conversion failed")
	ErrNoDecoder        = errors.New("no decoder configured")
)

// Converter is the slice of relay.Manager the player depends on.
type Converter interface {
	Available(ctx context.Context) bool
	Convert(ctx context.Context, source string) (string, bool)
	ConvertCamera(ctx context.Context, resourceID string) (string, bool)
}

// Source is one entry of the appliance's stream source list.
type Source struct {
	Index  int
	Name   string
	URL    string
	Active bool
}

// Decoder controls the appliance's stream source list.
type Decoder interface {
	Sources(ctx context.Context) ([]Source, error)
	DisableSource(ctx context.Context, index int) error
	SelectSource(ctx context.Context, index int) error
	ModifySource(ctx context.Context, index int, name, url string, streamType StreamType, enabled bool) error
	AddSource(ctx context.Context, name, url string, streamType StreamType, enabled bool) error
}

// Plan is the resolved form of a media request.
type Plan struct {
	MediaID    string     `json:"mediaId"`
	URL        string     `json:"url"`
	StreamType StreamType `json:"streamType"`
	Camera     bool       `json:"camera"`
	Converted  bool       `json:"converted"`
}

// Action records what Play did to the appliance.
type Action string

const (
	ActionReloadedExisting Action = "reloaded_existing"
	ActionSelectedExisting Action = "selected_existing"
	ActionUpdatedManaged   Action = "updated_managed"
	ActionCreatedManaged   Action = "created_managed"
)

type Result struct {
	Plan
	Action      Action `json:"action"`
	SourceIndex int    `json:"sourceIndex"`
}

type Player struct {
	converter Converter
	decoder   Decoder
	logger    *slog.Logger
}

// NewPlayer builds a Player. decoder may be nil when only Plan is needed.
func NewPlayer(converter Converter, decoder Decoder, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		converter: converter,
		decoder:   decoder,
		logger:    logging.WithComponent(logger, "playback"),
	}
}

// Plan resolves mediaID to the URL the appliance should play, converting it
// through the relay when the appliance cannot play it natively.
func (p *Player) Plan(ctx context.Context, mediaType, mediaID string) (Plan, error) {
	plan := Plan{MediaID: mediaID, URL: mediaID, Camera: IsCamera(mediaType, mediaID)}

	switch {
	case plan.Camera:
		if !p.relayAvailable(ctx) {
			return Plan{}, fmt.Errorf("%w: camera %s", ErrRelayUnavailable, mediaID)
		}
		converted, ok := p.converter.ConvertCamera(ctx, mediaID)
		if !ok {
			return Plan{}, fmt.Errorf("%w: camera %s", ErrConversionFailed, mediaID)
		}
		plan.URL, plan.Converted = converted, true
	case NeedsConversion(mediaID):
		if !p.relayAvailable(ctx) {
			return Plan{}, fmt.Errorf("%w: %s", ErrRelayUnavailable, mediaID)
		}
		converted, ok := p.converter.Convert(ctx, mediaID)
		if !ok {
			return Plan{}, fmt.Errorf("%w: %s", ErrConversionFailed, mediaID)
		}
		p.logger.Debug("converted stream via relay", "source", mediaID, "url", converted)
		plan.URL, plan.Converted = converted, true
	}

	plan.StreamType = StreamTypeFor(plan.URL)
	return plan, nil
}

// Play resolves the request and loads the result onto the appliance.
// Active sources are disabled before they are changed or re-selected so the
// appliance reloads the stream.
func (p *Player) Play(ctx context.Context, mediaType, mediaID string) (Result, error) {
	if p.decoder == nil {
		return Result{}, ErrNoDecoder
	}
	plan, err := p.Plan(ctx, mediaType, mediaID)
	if err != nil {
		return Result{}, err
	}

	result, err := p.load(ctx, plan)
	if err != nil {
		p.logger.Error("failed to play media", "url", plan.URL, "error", err)
		return Result{}, fmt.Errorf("play media %s: %w", plan.URL, err)
	}
	return result, nil
}

func (p *Player) load(ctx context.Context, plan Plan) (Result, error) {
	sources, err := p.decoder.Sources(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list sources: %w", err)
	}

	if existing, ok := findSource(sources, func(s Source) bool { return s.URL == plan.URL }); ok {
		action := ActionSelectedExisting
		if existing.Active {
			p.logger.Debug("source is active, cycling to reload", "source", existing.Name)
			if err := p.decoder.DisableSource(ctx, existing.Index); err != nil {
				return Result{}, fmt.Errorf("disable source %d: %w", existing.Index, err)
			}
			action = ActionReloadedExisting
		}
		if err := p.decoder.SelectSource(ctx, existing.Index); err != nil {
			return Result{}, fmt.Errorf("select source %d: %w", existing.Index, err)
		}
		return Result{Plan: plan, Action: action, SourceIndex: existing.Index}, nil
	}

	managed, ok := findSource(sources, func(s Source) bool { return s.Name == ManagedSourceName })
	if !ok {
		if err := p.decoder.AddSource(ctx, ManagedSourceName, plan.URL, plan.StreamType, true); err != nil {
			return Result{}, fmt.Errorf("add managed source: %w", err)
		}
		return Result{Plan: plan, Action: ActionCreatedManaged, SourceIndex: -1}, nil
	}

	if managed.Active {
		if err := p.decoder.DisableSource(ctx, managed.Index); err != nil {
			return Result{}, fmt.Errorf("disable managed source: %w", err)
		}
	}
	if err := p.decoder.ModifySource(ctx, managed.Index, ManagedSourceName, plan.URL, plan.StreamType, false); err != nil {
		return Result{}, fmt.Errorf("modify managed source: %w", err)
	}
	if err := p.decoder.SelectSource(ctx, managed.Index); err != nil {
		return Result{}, fmt.Errorf("select managed source: %w", err)
	}
	return Result{Plan: plan, Action: ActionUpdatedManaged, SourceIndex: managed.Index}, nil
}

func (p *Player) relayAvailable(ctx context.Context) bool {
	return p.converter != nil && p.converter.Available(ctx)
}

func findSource(sources []Source, match func(Source) bool) (Source, bool) {
	for _, source := range sources {
		if match(source) {
			return source, true
		}
	}
	return Source{}, false
}
