package physics

import (
	"math"
	"math/rand"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"

	"mirage/server/internal/geom"
	"mirage/server/internal/world"
)

// Body is the spatial footprint of an actor for one step.
type Body struct {
	World    string
	Position mgl64.Vec3
	Width    float64
	Height   float64
}

func (b Body) Box() cube.BBox {
	return geom.ActorBox(b.Position, b.Width, b.Height)
}

// Result reports what a step did to the body.
type Result struct {
	Position mgl64.Vec3
	Motion   mgl64.Vec3
	Moved    bool
	// Deferred is set when the geometry around the body was not loaded and
	// the body was held in place.
	Deferred bool
	Collided bool
	Stepped  bool
}

type Integrator struct {
	cfg Config
}

func NewIntegrator(cfg Config) *Integrator {
	return &Integrator{cfg: cfg.Normalized()}
}

func (in *Integrator) Config() Config {
	return in.cfg
}

// Step advances s by one tick. request is the horizontal displacement the AI
// wants this tick; its vertical component is ignored. Friction and gravity
// are applied before the collision sweep, and any axis that collides has its
// velocity zeroed.
func (in *Integrator) Step(s *Session, body Body, request mgl64.Vec3, geo world.Geometry) Result {
	result := Result{Position: body.Position}
	if s == nil || geo == nil {
		return result
	}
	cfg := in.cfg

	horizontalDrag := cfg.AirDrag
	if s.Grounded {
		horizontalDrag = cfg.GroundFriction
	}
	s.Velocity[0] *= horizontalDrag
	s.Velocity[2] *= horizontalDrag

	vy := (s.Velocity[1] - cfg.Gravity) * cfg.Drag
	if vy < cfg.TerminalVelocity {
		vy = cfg.TerminalVelocity
	}
	s.Velocity[1] = vy

	s.Velocity = in.snap(s.Velocity)
	if s.Knocked && s.Velocity[0] == 0 && s.Velocity[2] == 0 {
		s.Knocked = false
	}

	motion := s.Velocity.Add(geom.Horizontal(request))
	if !geom.Finite(motion) {
		s.Reset()
		return result
	}
	motion = in.snap(motion)
	if motion == (mgl64.Vec3{}) {
		return result
	}

	box := body.Box()
	obstacles, ok := geo.Collisions(body.World, geom.SweepArea(box, motion))
	if !ok {
		// Do not accumulate fall speed while the terrain is missing.
		s.Velocity[1] = 0
		result.Deferred = true
		return result
	}

	sweep := geom.Sweep(box, motion, obstacles)
	wantsHorizontal := request[0] != 0 || request[2] != 0
	if (sweep.CollidedX || sweep.CollidedZ) && wantsHorizontal && (s.Grounded || sweep.Grounded) {
		if stepped, ok := in.stepUp(body, box, motion, geo); ok {
			sweep = stepped
			result.Stepped = true
		}
	}

	if sweep.CollidedX {
		s.Velocity[0] = 0
	}
	if sweep.CollidedY {
		s.Velocity[1] = 0
	}
	if sweep.CollidedZ {
		s.Velocity[2] = 0
	}
	s.Grounded = sweep.Grounded || result.Stepped

	result.Motion = sweep.Motion
	result.Position = body.Position.Add(sweep.Motion)
	result.Moved = !geom.Negligible(sweep.Motion)
	result.Collided = sweep.Collided()
	return result
}

// stepUp retries a blocked horizontal move from the nearest reachable ground
// height at the destination, when that ground lies within StepHeight.
func (in *Integrator) stepUp(body Body, box cube.BBox, motion mgl64.Vec3, geo world.Geometry) (geom.SweepResult, bool) {
	horizontal := geom.Horizontal(motion)
	if horizontal.Len() == 0 {
		return geom.SweepResult{}, false
	}
	// Probe the column just past the leading edge of the box.
	target := body.Position.Add(horizontal.Add(horizontal.Normalize().Mul(body.Width / 2)))
	ground, found := FindGround(geo, body.World, target, body.Height, in.cfg.StepHeight, 0)
	if !found {
		return geom.SweepResult{}, false
	}
	rise := ground - body.Position[1]
	if rise <= 0 || rise > in.cfg.StepHeight+1e-9 {
		return geom.SweepResult{}, false
	}

	lift := mgl64.Vec3{0, rise, 0}
	obstacles, ok := geo.Collisions(body.World, geom.SweepArea(box, lift.Add(horizontal)))
	if !ok {
		return geom.SweepResult{}, false
	}
	raised := geom.Sweep(box, lift, obstacles)
	if raised.CollidedY {
		return geom.SweepResult{}, false
	}
	moved := geom.Sweep(raised.Box, horizontal, obstacles)
	if moved.CollidedX && moved.CollidedZ {
		return geom.SweepResult{}, false
	}
	return geom.SweepResult{
		Motion:    raised.Motion.Add(moved.Motion),
		Box:       moved.Box,
		CollidedX: moved.CollidedX,
		CollidedZ: moved.CollidedZ,
		CollidedY: true,
		Grounded:  true,
	}, true
}

func (in *Integrator) snap(v mgl64.Vec3) mgl64.Vec3 {
	eps := in.cfg.Epsilon
	for i := range v {
		if math.Abs(v[i]) < eps {
			v[i] = 0
		}
	}
	return v
}

// ApplyKnockback adds an impulse pushing the actor at target away from
// source. strength scales the horizontal part of the impulse; the vertical
// lift is fixed. resistance in [0, 1] attenuates both. When the two points
// coincide horizontally a random direction drawn from rng is used. The
// applied impulse is returned.
func (in *Integrator) ApplyKnockback(s *Session, source, target mgl64.Vec3, strength, resistance float64, rng *rand.Rand) mgl64.Vec3 {
	if s == nil || strength <= 0 || math.IsNaN(strength) {
		return mgl64.Vec3{}
	}
	resistance = mgl64.Clamp(resistance, 0, 1)
	scale := strength * (1 - resistance)
	if scale <= 0 {
		return mgl64.Vec3{}
	}

	dir := geom.Horizontal(target.Sub(source))
	if dir.Len() < 1e-4 || !geom.Finite(dir) {
		dir = world.RandomHorizontal(rng)
	} else {
		dir = dir.Normalize()
	}

	lift := in.cfg.KnockbackVertical * (1 - resistance)
	impulse := dir.Mul(in.cfg.KnockbackHorizontal * scale)
	impulse[1] = lift
	s.Velocity = s.Velocity.Add(impulse)
	if s.Velocity[1] > lift {
		s.Velocity[1] = lift
	}
	s.Knocked = true
	s.Grounded = false
	return impulse
}
