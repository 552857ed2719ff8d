package sim

import (
	"mirage/server/internal/combat"
	"mirage/server/internal/expr"
	"mirage/server/internal/net/proto"
	"mirage/server/internal/telemetry"
	"mirage/server/internal/trigger"
	"mirage/server/internal/world"
	"mirage/server/logging"
)

// Deps carries the collaborators of the engine. Geometry and Observers are
// required; the rest default to no-op implementations.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   *logging.Metrics
	Clock     logging.Clock
	Publisher logging.Publisher

	Geometry  world.Geometry
	Observers *world.Directory
	Transport proto.Transport
	Damager   world.PlayerDamager

	Hooks     *trigger.Hooks
	Evaluator expr.Evaluator
	Drops     combat.DropTable
	DropSink  combat.DropSink
}
