package ai

import (
	"context"

	"mirage/server/logging"
)

const (
	// EventStateChanged is emitted when an actor's behaviour state transitions.
	EventStateChanged logging.EventType = "ai.state_changed"
	// EventTargetChanged is emitted when an actor acquires or drops a target.
	EventTargetChanged logging.EventType = "ai.target_changed"
)

type StateChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type TargetChangedPayload struct {
	Previous string `json:"previous,omitempty"`
	Reason   string `json:"reason"`
}

// StateChanged publishes a debug event for a behaviour transition.
func StateChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StateChangedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStateChanged,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryAI,
		Payload:  payload,
	})
}

// TargetChanged publishes a target acquisition; target is empty when dropped.
func TargetChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload TargetChangedPayload) {
	if pub == nil {
		return
	}
	var targets []logging.EntityRef
	if target.ID != "" {
		targets = []logging.EntityRef{target}
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTargetChanged,
		Tick:     tick,
		Actor:    actor,
		Targets:  targets,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryAI,
		Payload:  payload,
	})
}
