package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirage/server/internal/actor"
	"mirage/server/internal/observability"
	"mirage/server/internal/telemetry"
	"mirage/server/logging"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Engine.TickRate)
	assert.Equal(t, DefaultAddr, cfg.HTTP.Addr)
	assert.Equal(t, DefaultWorld, cfg.World.Name)
	def, ok := cfg.Definition("zombie")
	require.True(t, ok)
	assert.Equal(t, actor.DefaultSpeed, def.Speed)
}

func TestParseReadsDefinitionsAndSpawns(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
engine:
  tick_rate: 10
  shards: 2
definitions:
  - name: skeleton
    health: 30
    attack_damage: 4
    target_condition: 'distance < 10'
    drops:
      - item: bone
        amount: 2
        chance: 0.5
spawns:
  - definition: skeleton
    position: [0, 64, 0]
    count: 3
`))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Engine.TickRate)
	assert.Equal(t, 2, cfg.Engine.Shards)
	require.Len(t, cfg.Definitions, 1)
	assert.Equal(t, 30.0, cfg.Definitions[0].Health)
	assert.Equal(t, float64(actor.DefaultFollowRange), cfg.Definitions[0].FollowRange)
	require.Len(t, cfg.Spawns, 1)
	assert.Equal(t, DefaultWorld, cfg.Spawns[0].World)
	assert.Equal(t, 3, cfg.Spawns[0].Count)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("engine:\n  tick_rat: 10\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseReadsPhysicsTunables(t *testing.T) {
	cfg, err := Parse(strings.NewReader("engine:\n  physics:\n    step_height: 0.5\n    knockback_vertical: 0.3\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Engine.Physics.StepHeight)
	assert.Equal(t, 0.3, cfg.Engine.Physics.KnockbackVertical)

	_, err = Parse(strings.NewReader("engine:\n  physics:\n    max_drop: 3\n"))
	require.ErrorIs(t, err, ErrInvalid, "physics only accepts tunables the integrator reads")
}

func TestParseRejectsUnknownSpawnDefinition(t *testing.T) {
	_, err := Parse(strings.NewReader("spawns:\n  - definition: ghast\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsDuplicateDefinitions(t *testing.T) {
	_, err := Parse(strings.NewReader("definitions:\n  - name: a\n  - name: a\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestNormalizeClampsInvalidTunables(t *testing.T) {
	cfg := Default()
	cfg.Engine.TickRate = -5
	cfg.Engine.ViewDistance = 0
	cfg.HTTP.QueueSize = -1
	cfg.Observability.Profile = "heap"
	var logged []string
	logger := telemetry.LoggerFunc(func(format string, args ...any) { logged = append(logged, format) })

	cfg, err := cfg.Normalize(logger)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Engine.TickRate)
	assert.Equal(t, 48.0, cfg.Engine.ViewDistance)
	assert.Equal(t, 256, cfg.HTTP.QueueSize)
	assert.Equal(t, observability.ProfileOff, cfg.Observability.Profile)
	assert.Len(t, logged, 1)
}

func TestApplyEnvOverridesAndIgnoresInvalid(t *testing.T) {
	env := map[string]string{
		EnvTickRate:     "40",
		EnvShards:       "zero",
		EnvViewDistance: "32.5",
		EnvLogLevel:     "DEBUG",
		EnvProfile:      "cpu",
	}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
	var logged int
	logger := telemetry.LoggerFunc(func(string, ...any) { logged++ })

	cfg := Default().ApplyEnv(lookup, logger)
	assert.Equal(t, 40, cfg.Engine.TickRate)
	assert.Equal(t, 4, cfg.Engine.Shards)
	assert.Equal(t, 32.5, cfg.Engine.ViewDistance)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, observability.ProfileCPU, cfg.Observability.Profile)
	assert.Equal(t, 1, logged)
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnvSetsEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MIRAGE_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MIRAGE_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("MIRAGE_TEST_DOTENV"))
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: ':9090'\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestRouterConfig(t *testing.T) {
	metrics := logging.NewMetrics()
	cfg := Logging{Level: "warn", Sinks: []string{"json"}, JSONPath: "events.ndjson", BufferSize: 64}.RouterConfig(metrics)
	assert.Equal(t, logging.SeverityWarn, cfg.MinimumSeverity)
	assert.Equal(t, []string{"json"}, cfg.EnabledSinks)
	assert.Equal(t, "events.ndjson", cfg.JSON.FilePath)
	assert.Same(t, metrics, cfg.Metrics)
}
