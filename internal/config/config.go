// Package config loads the server configuration file and its environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mirage/server/internal/actor"
	"mirage/server/internal/observability"
	"mirage/server/internal/sim"
	"mirage/server/internal/telemetry"
	"mirage/server/logging"
)

// ErrInvalid marks a configuration that cannot be used even after
// normalisation.
var ErrInvalid = errors.New("config: invalid")

const (
	EnvTickRate     = "MIRAGE_TICK_RATE"
	EnvShards       = "MIRAGE_SHARDS"
	EnvViewDistance = "MIRAGE_VIEW_DISTANCE"
	EnvLogLevel     = "MIRAGE_LOG_LEVEL"
	EnvProfile      = "MIRAGE_PROFILE"
	EnvAddr         = "MIRAGE_ADDR"

	DefaultAddr  = ":8080"
	DefaultWorld = "overworld"
)

type File struct {
	Engine        sim.Config           `yaml:"engine" json:"engine"`
	Logging       Logging              `yaml:"logging" json:"logging"`
	HTTP          HTTP                 `yaml:"http" json:"http"`
	Observability observability.Config `yaml:"observability" json:"observability"`
	World         World                `yaml:"world" json:"world"`
	Definitions   []actor.Definition   `yaml:"definitions" json:"definitions"`
	Spawns        []Spawn              `yaml:"spawns" json:"spawns"`
}

type Logging struct {
	Level string   `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Sinks []string `yaml:"sinks" json:"sinks"`
	// JSONPath is the NDJSON file written by the json sink.
	JSONPath   string `yaml:"json_path,omitempty" json:"json_path,omitempty"`
	BufferSize int    `yaml:"buffer_size" json:"buffer_size"`
}

type HTTP struct {
	Addr      string `yaml:"addr" json:"addr"`
	ClientDir string `yaml:"client_dir,omitempty" json:"client_dir,omitempty"`
	// QueueSize bounds the outbound frames buffered per viewer.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	// Reach and MaxDamage bound viewer attacks.
	Reach     float64 `yaml:"reach" json:"reach"`
	MaxDamage float64 `yaml:"max_damage" json:"max_damage"`
}

// World describes the flat test terrain served when no external world is
// attached.
type World struct {
	Name   string `yaml:"name" json:"name"`
	FloorY int    `yaml:"floor_y" json:"floor_y"`
	Radius int    `yaml:"radius" json:"radius"`
}

// Spawn places Count creatures of Definition around Position at startup.
type Spawn struct {
	Definition string     `yaml:"definition" json:"definition" jsonschema:"required"`
	World      string     `yaml:"world,omitempty" json:"world,omitempty"`
	Position   [3]float64 `yaml:"position" json:"position"`
	Count      int        `yaml:"count" json:"count"`
}

func Default() File {
	return File{
		Engine: sim.DefaultConfig(),
		Logging: Logging{
			Level:      "info",
			Sinks:      []string{"console", "zap"},
			BufferSize: logging.DefaultConfig().BufferSize,
		},
		HTTP: HTTP{Addr: DefaultAddr, QueueSize: 256, Reach: 6, MaxDamage: 40},
		World: World{
			Name:   DefaultWorld,
			FloorY: 63,
			Radius: 128,
		},
		Definitions: []actor.Definition{{Name: "zombie", Health: 20, Armor: 2, AttackDamage: 3}},
	}
}

// Load reads path, falling back to defaults when path is empty.
func Load(path string) (File, error) {
	if path == "" {
		return Default().Normalize(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes YAML from r on top of the defaults. Unknown keys are an
// error.
func Parse(r io.Reader) (File, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg.Normalize(nil)
}

// LoadDotEnv loads a .env file into the process environment when present.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides fields from the environment. Invalid values are logged
// and ignored.
func (f File) ApplyEnv(lookup func(string) (string, bool), logger telemetry.Logger) File {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	logf := func(format string, args ...any) {
		if logger != nil {
			logger.Printf(format, args...)
		}
	}
	if raw, ok := lookup(EnvTickRate); ok && raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			f.Engine.TickRate = value
		} else {
			logf("invalid %s=%q", EnvTickRate, raw)
		}
	}
	if raw, ok := lookup(EnvShards); ok && raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			f.Engine.Shards = value
		} else {
			logf("invalid %s=%q", EnvShards, raw)
		}
	}
	if raw, ok := lookup(EnvViewDistance); ok && raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			f.Engine.ViewDistance = value
		} else {
			logf("invalid %s=%q", EnvViewDistance, raw)
		}
	}
	if raw, ok := lookup(EnvLogLevel); ok && raw != "" {
		f.Logging.Level = strings.ToLower(strings.TrimSpace(raw))
	}
	if raw, ok := lookup(EnvProfile); ok {
		mode := observability.ProfileMode(strings.ToLower(strings.TrimSpace(raw)))
		if mode.Valid() {
			f.Observability.Profile = mode
		} else {
			logf("invalid %s=%q", EnvProfile, raw)
		}
	}
	if raw, ok := lookup(EnvAddr); ok && raw != "" {
		f.HTTP.Addr = raw
	}
	return f
}

// Normalize clamps every tunable and validates the definitions. Spawns that
// name an unknown definition make the file invalid.
func (f File) Normalize(logger telemetry.Logger) (File, error) {
	f.Engine = f.Engine.Normalized()
	if f.Logging.Level == "" {
		f.Logging.Level = "info"
	}
	if f.Logging.BufferSize <= 0 {
		f.Logging.BufferSize = logging.DefaultConfig().BufferSize
	}
	if f.HTTP.Addr == "" {
		f.HTTP.Addr = DefaultAddr
	}
	if f.HTTP.QueueSize <= 0 {
		f.HTTP.QueueSize = 256
	}
	if !(f.HTTP.Reach > 0) {
		f.HTTP.Reach = 6
	}
	if !(f.HTTP.MaxDamage > 0) {
		f.HTTP.MaxDamage = 40
	}
	if !f.Observability.Profile.Valid() {
		if logger != nil {
			logger.Printf("unknown profile mode %q, profiling disabled", f.Observability.Profile)
		}
		f.Observability.Profile = observability.ProfileOff
	}
	if f.World.Name == "" {
		f.World.Name = DefaultWorld
	}
	if f.World.Radius <= 0 {
		f.World.Radius = 128
	}

	seen := make(map[string]struct{}, len(f.Definitions))
	for i, def := range f.Definitions {
		if err := def.Validate(); err != nil {
			return File{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		def = def.Normalized()
		if _, dup := seen[def.Name]; dup {
			return File{}, fmt.Errorf("%w: duplicate definition %q", ErrInvalid, def.Name)
		}
		seen[def.Name] = struct{}{}
		f.Definitions[i] = def
	}
	for i, spawn := range f.Spawns {
		if _, ok := seen[spawn.Definition]; !ok {
			return File{}, fmt.Errorf("%w: spawn %d uses unknown definition %q", ErrInvalid, i, spawn.Definition)
		}
		if spawn.World == "" {
			spawn.World = f.World.Name
		}
		if spawn.Count <= 0 {
			spawn.Count = 1
		}
		f.Spawns[i] = spawn
	}
	return f, nil
}

// Definition returns the named definition.
func (f File) Definition(name string) (actor.Definition, bool) {
	for _, def := range f.Definitions {
		if def.Name == name {
			return def, true
		}
	}
	return actor.Definition{}, false
}

// RouterConfig translates the logging section into router settings.
func (l Logging) RouterConfig(metrics *logging.Metrics) logging.Config {
	cfg := logging.DefaultConfig()
	if len(l.Sinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), l.Sinks...)
	}
	cfg.BufferSize = l.BufferSize
	cfg.MinimumSeverity = logging.ParseSeverity(l.Level)
	cfg.JSON.FilePath = l.JSONPath
	cfg.Metrics = metrics
	return cfg
}
