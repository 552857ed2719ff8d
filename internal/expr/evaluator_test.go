package expr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirage/server/internal/telemetry"
	"mirage/server/logging"
)

func TestCompiledEvaluatesArithmeticAgainstContext(t *testing.T) {
	eval := NewCompiled()
	ctx := Context{"damage": 12.0, "armor": 10.0}

	got, err := eval.EvaluateNumber("damage * (1 - min(armor, 20) / 25)", ctx)
	require.NoError(t, err)
	assert.InDelta(t, 7.2, got, 1e-9)

	// Cached program gives the same answer with a new context.
	got, err = eval.EvaluateNumber("damage * (1 - min(armor, 20) / 25)", ctx.With("armor", 0.0))
	require.NoError(t, err)
	assert.InDelta(t, 12, got, 1e-9)
}

func TestCompiledIntegerResultsAreNumbers(t *testing.T) {
	got, err := NewCompiled().EvaluateNumber("2 + 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)
}

func TestCompiledBoolean(t *testing.T) {
	eval := NewCompiled()
	ok, err := eval.EvaluateBoolean("target_health < 10 && distance <= 4", Context{"target_health": 5.0, "distance": 3.0})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = eval.EvaluateBoolean("1 + 1", nil)
	assert.ErrorIs(t, err, ErrNotBool)
}

func TestCompiledErrors(t *testing.T) {
	eval := NewCompiled()

	_, err := eval.EvaluateNumber("   ", nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = eval.EvaluateNumber("1 +", nil)
	assert.Error(t, err)

	_, err = eval.EvaluateNumber("\"text\"", nil)
	assert.ErrorIs(t, err, ErrNotNumber)
}

func TestNewSelectsEvaluatorByKind(t *testing.T) {
	compiled, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &Compiled{}, compiled)

	literal, err := New(KindLiteral)
	require.NoError(t, err)
	assert.IsType(t, Literal{}, literal)
	_, err = literal.EvaluateNumber("armor * 2", Context{"armor": 3})
	assert.Error(t, err, "literal evaluator must not run formulas")

	_, err = New("lua")
	assert.Error(t, err)
	assert.False(t, ValidKind("lua"))
}

func TestLiteral(t *testing.T) {
	var eval Literal

	n, err := eval.EvaluateNumber("$health", Context{"health": 7})
	require.NoError(t, err)
	assert.Equal(t, 7.0, n)

	n, err = eval.EvaluateNumber("2.5", nil)
	require.NoError(t, err)
	assert.Equal(t, 2.5, n)

	b, err := eval.EvaluateBoolean("true", nil)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = eval.EvaluateNumber("health * 2", nil)
	assert.Error(t, err)
}

func TestToNumberRejectsNonFinite(t *testing.T) {
	_, err := ToNumber(1.0 / zero())
	assert.ErrorIs(t, err, ErrNotNumber)
}

func zero() float64 { return 0 }

type failingEvaluator struct{}

func (failingEvaluator) EvaluateNumber(string, Context) (float64, error) {
	return 0, errors.New("boom")
}

func (failingEvaluator) EvaluateBoolean(string, Context) (bool, error) {
	return false, errors.New("boom")
}

func TestGuardedFallsBackAndCountsFailures(t *testing.T) {
	var logs []string
	metrics := logging.NewMetrics()
	g := NewGuarded(failingEvaluator{}, telemetry.LoggerFunc(func(format string, args ...any) {
		logs = append(logs, fmt.Sprintf(format, args...))
	}), telemetry.WrapMetrics(metrics))

	assert.Equal(t, 3.0, g.Number("x", nil, 3))
	assert.True(t, g.Boolean("x", nil, true))
	_, ok := g.TryNumber("x", nil)
	assert.False(t, ok)

	assert.Equal(t, uint64(3), metrics.Value(metricFailures))
	assert.Len(t, logs, 3)
}

func TestGuardedEmptyExpressionUsesFallbackSilently(t *testing.T) {
	metrics := logging.NewMetrics()
	g := NewGuarded(NewCompiled(), nil, telemetry.WrapMetrics(metrics))

	assert.Equal(t, 9.0, g.Number("", nil, 9))
	assert.Equal(t, uint64(0), metrics.Value(metricFailures))
}

func TestGuardedSlowEvaluationOnlyWarns(t *testing.T) {
	var logs []string
	metrics := logging.NewMetrics()
	g := NewGuarded(Literal{}, telemetry.LoggerFunc(func(format string, args ...any) {
		logs = append(logs, fmt.Sprintf(format, args...))
	}), telemetry.WrapMetrics(metrics))

	base := time.Unix(0, 0)
	calls := 0
	g.Now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 10 * time.Millisecond)
	}

	assert.Equal(t, 4.0, g.Number("4", nil, 0))
	assert.Equal(t, uint64(1), metrics.Value(metricSlow))
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "slow evaluation")
}
