// Package snapshot converts authoritative entity state into compact wire
// snapshots and applies received snapshots to a client-side mirror, enforcing
// monotonic server-tick order in both directions.
package snapshot

import (
	"math"

	"deepdelve/netcore/internal/game"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/wire"
)

// Translator is the component boundary between the netcode core and entity
// state. It never runs on I/O goroutines: the server side is invoked by the
// tick loop, the client side by the game-thread dispatcher.
type Translator interface {
	// TranslateToSnapshot builds a snapshot for the tick, or reports false
	// when the tick is not strictly newer than the last emitted one.
	TranslateToSnapshot(serverTick int64, world game.World) (wire.Snapshot, bool)
	// ApplySnapshot overwrites the local mirror with the snapshot contents,
	// dropping snapshots that are not strictly newer than the last applied.
	ApplySnapshot(snap wire.Snapshot, world game.World)
}

// wrapAllowance is the window below the numeric maximum in which the guard
// resets, so a server whose tick counter wraps keeps its snapshots flowing.
const wrapAllowance = 1 << 10

// tickGuard enforces strictly increasing server ticks with the wrap allowance.
type tickGuard struct {
	latest int64
}

func newTickGuard() tickGuard { return tickGuard{latest: -1} }

// admit reports whether the tick is acceptable and records it when it is.
func (g *tickGuard) admit(tick int64) bool {
	if tick < 0 {
		return false
	}
	if tick > math.MaxInt64-wrapAllowance {
		g.latest = -1
		return true
	}
	if tick <= g.latest {
		return false
	}
	g.latest = tick
	return true
}

// Default is the standard Translator over the game.World mirror.
type Default struct {
	guard  tickGuard
	logger *logging.Logger

	// OnMissingEntity fires when an applied snapshot references an entity the
	// local store cannot resolve, so the owner may request a spawn event.
	OnMissingEntity func(entityName string)
}

// NewDefault builds a translator. Server and client use separate instances so
// each side keeps its own monotonic guard.
func NewDefault(logger *logging.Logger) *Default {
	if logger == nil {
		logger = logging.L()
	}
	return &Default{guard: newTickGuard(), logger: logger}
}

// TranslateToSnapshot implements Translator.
func (t *Default) TranslateToSnapshot(serverTick int64, world game.World) (wire.Snapshot, bool) {
	if !t.guard.admit(serverTick) {
		t.logger.Debug("skipping snapshot for stale server tick",
			logging.Int64("server_tick", serverTick))
		return wire.Snapshot{}, false
	}

	states := make([]wire.EntityState, 0, world.Len())
	world.Each(func(e *game.Entity) {
		state := wire.EntityState{
			EntityName:    e.Name,
			Position:      e.Position,
			ViewDirection: string(e.ViewDirection),
			Animation:     e.Animation,
		}
		if e.Health != nil {
			current, max := e.Health.Current, e.Health.Max
			state.CurrentHealth = &current
			state.MaxHealth = &max
		}
		if e.Tint != nil {
			tint := *e.Tint
			state.Tint = &tint
		}
		states = append(states, state)
	})
	return wire.Snapshot{ServerTick: serverTick, Entities: states}, true
}

// ApplySnapshot implements Translator.
func (t *Default) ApplySnapshot(snap wire.Snapshot, world game.World) {
	if !t.guard.admit(snap.ServerTick) {
		t.logger.Debug("dropping out-of-order snapshot",
			logging.Int64("server_tick", snap.ServerTick))
		return
	}

	for _, state := range snap.Entities {
		entity, ok := world.Resolve(state.EntityName)
		if !ok {
			t.logger.Info("snapshot references unknown entity",
				logging.String("entity", state.EntityName))
			if t.OnMissingEntity != nil {
				t.OnMissingEntity(state.EntityName)
			}
			continue
		}

		entity.Position = state.Position
		if dir, ok := game.ParseDirection(state.ViewDirection); ok {
			entity.ViewDirection = dir
		}
		if state.Animation != "" {
			entity.Animation = state.Animation
		}
		if state.Tint != nil {
			tint := *state.Tint
			entity.Tint = &tint
		}
		if state.CurrentHealth != nil && state.MaxHealth != nil {
			entity.Health = &game.Health{Current: *state.CurrentHealth, Max: *state.MaxHealth}
		}
	}
}
