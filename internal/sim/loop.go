package sim

import (
	"context"
	"errors"
	"time"

	"mirage/server/logging"
	"mirage/server/logging/simulation"
)

const metricBudgetOverruns = "sim_tick_budget_overrun_total"

// LoopHooks observe the fixed-timestep runner.
type LoopHooks struct {
	// AfterStep runs on the loop goroutine after every tick.
	AfterStep func(LoopStepResult)
}

// LoopStepResult describes one tick driven by the loop.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
	Err          error
}

// Loop drives an engine at its configured tick rate.
type Loop struct {
	engine *Engine
	hooks  LoopHooks
	streak uint64
}

func NewLoop(engine *Engine, hooks LoopHooks) *Loop {
	if engine == nil {
		return nil
	}
	return &Loop{engine: engine, hooks: hooks}
}

// Advance executes a single tick and reports budget overruns.
func (l *Loop) Advance(now time.Time, delta float64) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	clock := l.engine.deps.Clock
	budget := time.Second / time.Duration(l.engine.cfg.TickRate)

	start := clock.Now()
	tick, err := l.engine.Tick()
	result := LoopStepResult{
		Tick:     tick,
		Now:      now,
		Delta:    delta,
		Duration: clock.Now().Sub(start),
		Budget:   budget,
		Err:      err,
	}
	if err == nil && result.Duration > budget {
		l.streak++
		l.engine.metrics.Add(metricBudgetOverruns, 1)
		simulation.TickBudgetOverrun(context.Background(), l.engine.publisher, tick, simulation.TickBudgetOverrunPayload{
			DurationMillis: result.Duration.Milliseconds(),
			BudgetMillis:   budget.Milliseconds(),
			Ratio:          float64(result.Duration) / float64(budget),
			Streak:         l.streak,
		})
	} else if err == nil {
		l.streak = 0
	}
	return result
}

// Run drives the fixed-timestep loop until the stop channel closes or the
// engine stops.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	tickRate := l.engine.cfg.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	clock := l.engine.deps.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	last := clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.engine.cfg.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.engine.cfg.CatchupMaxTicks)
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			result := l.Advance(now, dt)
			result.ClampedDelta = clamped
			result.MaxDelta = maxDt

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
			if errors.Is(result.Err, ErrStopped) && l.engine.closed.Load() {
				return
			}
		}
	}
}
