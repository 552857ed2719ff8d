package simulation

import (
	"context"

	"mirage/server/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a tick exceeds its wall-clock budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventStepFailed is emitted when a single actor step panics.
	EventStepFailed logging.EventType = "simulation.step_failed"
	// EventRegionBackpressure is emitted when a shard queue refuses region work.
	EventRegionBackpressure logging.EventType = "simulation.region_backpressure"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// StepFailedPayload describes a recovered panic.
type StepFailedPayload struct {
	Phase string `json:"phase"`
	Error string `json:"error"`
}

// RegionBackpressurePayload identifies the saturated shard.
type RegionBackpressurePayload struct {
	Shard  int `json:"shard"`
	Actors int `json:"actors"`
}

// TickBudgetOverrun publishes a warning when the simulation exceeds the configured tick budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindEngine},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// StepFailed publishes an error for an isolated actor step failure.
func StepFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StepFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStepFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// RegionBackpressure publishes a warning when region work could not be queued.
func RegionBackpressure(ctx context.Context, pub logging.Publisher, tick uint64, payload RegionBackpressurePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRegionBackpressure,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindEngine},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}
