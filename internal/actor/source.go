package actor

import "github.com/go-gl/mathgl/mgl64"

type SourceKind uint8

const (
	SourceUnknown SourceKind = iota
	SourcePlayer
	SourceActor
	// SourceEnvironment covers fall damage, fire, commands and similar.
	SourceEnvironment
)

func (k SourceKind) String() string {
	switch k {
	case SourcePlayer:
		return "player"
	case SourceActor:
		return "actor"
	case SourceEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

// Source identifies who or what dealt damage. Only sources with an ID are
// recorded in the damage ledger.
type Source struct {
	ID          string
	Kind        SourceKind
	Position    mgl64.Vec3
	HasPosition bool
}

func PlayerSource(id string, pos mgl64.Vec3) Source {
	return Source{ID: id, Kind: SourcePlayer, Position: pos, HasPosition: true}
}

func ActorSource(a *Actor) Source {
	if a == nil {
		return Source{}
	}
	return Source{ID: a.Key(), Kind: SourceActor, Position: a.Position, HasPosition: true}
}

func EnvironmentSource(cause string) Source {
	return Source{ID: cause, Kind: SourceEnvironment}
}

// Attributable reports whether damage from this source earns credit.
func (s Source) Attributable() bool {
	return s.ID != "" && s.Kind != SourceEnvironment
}
