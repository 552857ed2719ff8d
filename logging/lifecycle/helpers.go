package lifecycle

import (
	"context"

	"mirage/server/logging"
)

const (
	// EventActorSpawned is emitted when an actor is registered.
	EventActorSpawned logging.EventType = "lifecycle.actor_spawned"
	// EventActorDespawned is emitted when an actor is torn down.
	EventActorDespawned logging.EventType = "lifecycle.actor_despawned"
	// EventViewerAdded is emitted when an observer starts receiving an actor.
	EventViewerAdded logging.EventType = "lifecycle.viewer_added"
	// EventViewerRemoved is emitted when an observer stops receiving an actor.
	EventViewerRemoved logging.EventType = "lifecycle.viewer_removed"
)

// ActorSpawnedPayload captures spawn metadata for a new actor.
type ActorSpawnedPayload struct {
	Definition string  `json:"definition"`
	NetworkID  int64   `json:"networkId"`
	World      string  `json:"world"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Viewers    int     `json:"viewers"`
}

// ActorDespawnedPayload captures why an actor left the simulation.
type ActorDespawnedPayload struct {
	Reason  string `json:"reason"`
	Viewers int    `json:"viewers"`
}

// ViewerPayload captures the network id the viewer was told about.
type ViewerPayload struct {
	NetworkID int64 `json:"networkId"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryLifecycle
	pub.Publish(ctx, event)
}

// ActorSpawned publishes an actor registration event.
func ActorSpawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ActorSpawnedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventActorSpawned,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

// ActorDespawned publishes an actor teardown event.
func ActorDespawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ActorDespawnedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventActorDespawned,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

// ViewerAdded publishes a debug event when an observer enters view range.
func ViewerAdded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, viewer logging.EntityRef, payload ViewerPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventViewerAdded,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{viewer},
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}

// ViewerRemoved publishes a debug event when an observer leaves view range.
func ViewerRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, viewer logging.EntityRef, payload ViewerPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventViewerRemoved,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{viewer},
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}
