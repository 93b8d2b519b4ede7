package game

import (
	"math"

	"deepdelve/netcore/internal/wire"
)

// System is one simulation routine executed by the TickRunner.
type System interface {
	Execute(world World)
}

// registration tracks per-system cadence state between frames.
type registration struct {
	system  System
	every   int
	since   int
	running bool
}

// TickRunner iterates registered systems in registration order, honoring each
// system's execute-every-N-frames cadence and running flag. It reproduces the
// tick semantics of the in-game loop so a dedicated server advances entities
// exactly the way the host engine would.
type TickRunner struct {
	systems []*registration
}

// NewTickRunner returns an empty runner.
func NewTickRunner() *TickRunner { return &TickRunner{} }

// Register appends a system. everyNFrames values below 1 are clamped to 1.
func (r *TickRunner) Register(s System, everyNFrames int) {
	if s == nil {
		return
	}
	if everyNFrames < 1 {
		everyNFrames = 1
	}
	r.systems = append(r.systems, &registration{system: s, every: everyNFrames, running: true})
}

// SetRunning toggles a previously registered system.
func (r *TickRunner) SetRunning(s System, running bool) {
	for _, reg := range r.systems {
		if reg.system == s {
			reg.running = running
			return
		}
	}
}

// RunOneFrame advances cadence counters and executes every due system.
func (r *TickRunner) RunOneFrame(world World) {
	for _, reg := range r.systems {
		reg.since++
		if reg.running && reg.since >= reg.every {
			reg.system.Execute(world)
			reg.since = 0
		}
	}
}

// MovementSystem applies the pending movement force of each entity as an
// impulse: position changes once per applied force, then the force clears.
type MovementSystem struct{}

// Execute implements System.
func (MovementSystem) Execute(world World) {
	world.Each(func(e *Entity) {
		if e.Force.X == 0 && e.Force.Y == 0 {
			return
		}
		e.Position.X += e.Force.X
		e.Position.Y += e.Force.Y
		if dir := DirectionOf(e.Force); dir != DirectionNone {
			e.ViewDirection = dir
		}
		e.Force = wire.Point{}
		// A fresh force interrupts any path following in progress.
		e.PathTarget = nil
	})
}

// PathSystem steps entities toward their path target at their configured
// speed, clearing the target on arrival.
type PathSystem struct{}

// Execute implements System.
func (PathSystem) Execute(world World) {
	world.Each(func(e *Entity) {
		if e.PathTarget == nil {
			return
		}
		dx := float64(e.PathTarget.X - e.Position.X)
		dy := float64(e.PathTarget.Y - e.Position.Y)
		dist := math.Hypot(dx, dy)
		step := float64(e.Speed)
		if step <= 0 {
			step = defaultHeroSpeed
		}
		if dist <= step {
			e.Position = *e.PathTarget
			e.PathTarget = nil
			return
		}
		e.Position.X += float32(dx / dist * step)
		e.Position.Y += float32(dy / dist * step)
		if dir := DirectionOf(wire.Point{X: float32(dx), Y: float32(dy)}); dir != DirectionNone {
			e.ViewDirection = dir
		}
	})
}
