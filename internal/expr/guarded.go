package expr

import (
	"fmt"
	"math"
	"time"

	"mirage/server/internal/telemetry"
)

const (
	metricFailures = "expr_failures_total"
	metricSlow     = "expr_slow_total"
)

// DefaultSlowThreshold is the evaluation latency above which a warning is
// logged.
const DefaultSlowThreshold = 5 * time.Millisecond

// Guarded wraps an Evaluator so callers always get a usable value: failures
// and non-finite results yield the caller's fallback and are logged. A slow
// evaluation is only reported, never aborted.
type Guarded struct {
	Next          Evaluator
	SlowThreshold time.Duration
	Logger        telemetry.Logger
	Metrics       telemetry.Metrics
	Now           func() time.Time
}

func NewGuarded(next Evaluator, logger telemetry.Logger, metrics telemetry.Metrics) *Guarded {
	return &Guarded{
		Next:          next,
		SlowThreshold: DefaultSlowThreshold,
		Logger:        logger,
		Metrics:       metrics,
	}
}

// Number evaluates expression, returning fallback when it is empty or fails.
func (g *Guarded) Number(expression string, ctx Context, fallback float64) float64 {
	if g == nil || g.Next == nil || expression == "" {
		return fallback
	}
	start := g.now()
	value, err := g.Next.EvaluateNumber(expression, ctx)
	g.observe(expression, start)
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = fmt.Errorf("non-finite result %v", value)
	}
	if err != nil {
		g.fail(expression, err)
		return fallback
	}
	return value
}

// Boolean evaluates expression, returning fallback when it is empty or fails.
func (g *Guarded) Boolean(expression string, ctx Context, fallback bool) bool {
	if g == nil || g.Next == nil || expression == "" {
		return fallback
	}
	start := g.now()
	value, err := g.Next.EvaluateBoolean(expression, ctx)
	g.observe(expression, start)
	if err != nil {
		g.fail(expression, err)
		return fallback
	}
	return value
}

// TryNumber is Number without a fallback: ok is false when evaluation failed.
func (g *Guarded) TryNumber(expression string, ctx Context) (float64, bool) {
	if g == nil || g.Next == nil || expression == "" {
		return 0, false
	}
	start := g.now()
	value, err := g.Next.EvaluateNumber(expression, ctx)
	g.observe(expression, start)
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = fmt.Errorf("non-finite result %v", value)
	}
	if err != nil {
		g.fail(expression, err)
		return 0, false
	}
	return value, true
}

func (g *Guarded) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Guarded) observe(expression string, start time.Time) {
	threshold := g.SlowThreshold
	if threshold <= 0 {
		return
	}
	if elapsed := g.now().Sub(start); elapsed > threshold {
		if g.Metrics != nil {
			g.Metrics.Add(metricSlow, 1)
		}
		if g.Logger != nil {
			g.Logger.Printf("[expr] slow evaluation of %q took %s (threshold %s)", expression, elapsed, threshold)
		}
	}
}

func (g *Guarded) fail(expression string, err error) {
	if g.Metrics != nil {
		g.Metrics.Add(metricFailures, 1)
	}
	if g.Logger != nil {
		g.Logger.Printf("[expr] evaluating %q failed, using default: %v", expression, err)
	}
}
