package server

import (
	"context"
	"sync/atomic"
	"time"

	"deepdelve/netcore/internal/game"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/replay"
	"deepdelve/netcore/internal/session"
	"deepdelve/netcore/internal/simulation"
	"deepdelve/netcore/internal/snapshot"
	"deepdelve/netcore/internal/wire"
)

// LoopOption configures optional Loop behaviour at construction time.
type LoopOption func(*Loop)

// WithRecorder attaches a replay recorder that persists every broadcast snapshot.
func WithRecorder(recorder *replay.Recorder) LoopOption {
	return func(l *Loop) { l.recorder = recorder }
}

// WithSystems replaces the default movement systems, letting the host register
// its own simulation pipeline.
func WithSystems(register func(runner *game.TickRunner)) LoopOption {
	return func(l *Loop) { l.registerSystems = register }
}

// LoopStats is a stable view of loop counters for the ops endpoint.
type LoopStats struct {
	ServerTick int64
	Broadcasts int64
	Timing     simulation.TickMetricsSnapshot
}

// Loop is the authoritative fixed-rate tick loop. One dedicated goroutine owns
// the world: it reconciles sessions with entities, drains player intents, runs
// the simulation systems, and periodically emits a snapshot to every bound
// datagram peer. Snapshot emission is sequenced after simulation within the
// same step, so their deadlines can never invert.
type Loop struct {
	net        *Service
	registry   *session.Registry
	world      game.World
	catalog    game.LevelCatalog
	translator snapshot.Translator
	runner     *game.TickRunner
	logger     *logging.Logger
	monitor    *simulation.TickMonitor
	recorder   *replay.Recorder

	registerSystems func(runner *game.TickRunner)

	driver *simulation.Loop
	cancel context.CancelFunc

	// control carries host-initiated work (level transitions) onto the tick
	// thread; the tick thread is the only executor.
	control chan func()

	tickHz        int
	snapshotEvery int
	sinceSnapshot int

	// Owned by the tick goroutine; read atomically by Stats.
	serverTick atomic.Int64
	broadcasts atomic.Int64

	// clientID to spawned entity name, owned by the tick goroutine.
	entities map[int32]string
}

// NewLoop assembles the tick loop. The translator is required; a missing one
// is an integration error surfaced immediately rather than at first snapshot.
func NewLoop(net *Service, registry *session.Registry, world game.World, catalog game.LevelCatalog,
	translator snapshot.Translator, tickHz, snapshotHz int, logger *logging.Logger, opts ...LoopOption) *Loop {
	if translator == nil {
		panic("server: snapshot translator must be set before the loop starts")
	}
	if logger == nil {
		logger = logging.L()
	}
	if tickHz <= 0 {
		tickHz = 20
	}
	if snapshotHz <= 0 || snapshotHz > tickHz {
		snapshotHz = tickHz
	}
	l := &Loop{
		net:        net,
		registry:   registry,
		world:      world,
		catalog:    catalog,
		translator: translator,
		runner:     game.NewTickRunner(),
		logger:     logger,
		monitor:    simulation.NewTickMonitor(),
		control:    make(chan func(), 16),
		tickHz:     tickHz,
		// Integer cadence: with the 20/20 defaults every tick snapshots.
		snapshotEvery: tickHz / snapshotHz,
		entities:      make(map[int32]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Start registers the simulation systems, announces the initial level, and
// begins ticking on a dedicated goroutine.
func (l *Loop) Start() {
	if l.registerSystems != nil {
		l.registerSystems(l.runner)
	} else {
		l.runner.Register(game.MovementSystem{}, 1)
		l.runner.Register(game.PathSystem{}, 1)
	}

	l.net.BroadcastReliable(wire.LevelChange{LevelName: l.catalog.CurrentLevel()})

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.driver = simulation.NewLoop(float64(l.tickHz), l.step)
	l.driver.Start(ctx)
	l.logger.Info("authoritative loop started",
		logging.Int("tick_hz", l.tickHz), logging.Int("snapshot_every", l.snapshotEvery))
}

// Stop halts the tick goroutine. Idempotent.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.driver.Stop()
	l.cancel = nil
	if l.recorder != nil {
		l.recorder.Close()
	}
	l.logger.Info("authoritative loop stopped")
}

// AdvanceLevel schedules a level transition on the tick thread: the next level
// is announced with a LEVEL_CHANGE, exhaustion with a GAME_OVER.
func (l *Loop) AdvanceLevel() {
	select {
	case l.control <- l.advanceLevelOnTick:
	default:
		l.logger.Warn("control queue full, dropping level transition")
	}
}

// Stats returns loop counters for the ops endpoint.
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		ServerTick: l.serverTick.Load(),
		Broadcasts: l.broadcasts.Load(),
		Timing:     l.monitor.Snapshot(),
	}
}

// step runs one authoritative tick. Executed only by the driver goroutine.
func (l *Loop) step(time.Duration) {
	started := time.Now()
	tick := l.serverTick.Add(1)

	//1.- Host-initiated work and session reconciliation precede input handling
	// so freshly connected clients have an entity before their intents land.
	l.drainControl()
	l.reconcileSessions()
	//2.- Drain every queued intent and spawn lookup, then advance the systems.
	l.drainInputs()
	l.drainSpawnRequests()
	l.runner.RunOneFrame(l.world)

	//3.- Snapshot emission runs last within the step, after simulation.
	l.sinceSnapshot++
	if l.sinceSnapshot >= l.snapshotEvery {
		l.sinceSnapshot = 0
		l.emitSnapshot(tick)
	}

	l.monitor.Observe(time.Since(started))
}

func (l *Loop) drainControl() {
	for {
		select {
		case fn := <-l.control:
			fn()
		default:
			return
		}
	}
}

// reconcileSessions spawns a hero for every session that has none yet and
// removes entities whose session disappeared. Registry mutations made by I/O
// goroutines happen-before this read because the registry hands out copies
// built under its lock.
func (l *Loop) reconcileSessions() {
	clients := l.registry.ActiveClients()

	for clientID, playerName := range clients {
		if _, ok := l.entities[clientID]; ok {
			continue
		}
		hero := game.NewHero(playerName, l.catalog.StartPosition())
		l.world.Spawn(hero)
		l.entities[clientID] = hero.Name
		l.logger.Info("spawned hero",
			logging.Int("client_id", int(clientID)), logging.String("entity", hero.Name))
	}

	for clientID, entityName := range l.entities {
		if _, ok := clients[clientID]; ok {
			continue
		}
		l.world.Remove(entityName)
		delete(l.entities, clientID)
		l.logger.Info("removed hero for disconnected client",
			logging.Int("client_id", int(clientID)), logging.String("entity", entityName))
	}
}

// drainInputs empties the intent queue and applies each action through the
// hero controller. Intents from unknown clients leave the world untouched.
func (l *Loop) drainInputs() {
	for {
		select {
		case input := <-l.net.inputQueue:
			l.applyInput(input)
		default:
			return
		}
	}
}

func (l *Loop) applyInput(input wire.Input) {
	entityName, ok := l.entities[input.ClientID]
	if !ok {
		return
	}
	hero, ok := l.world.Resolve(entityName)
	if !ok {
		return
	}
	switch input.Action {
	case wire.ActionMove:
		game.MoveHero(hero, input.Point)
	case wire.ActionMovePath:
		game.MoveHeroPath(hero, input.Point)
	case wire.ActionCastSkill:
		game.UseSkill(hero, input.Point)
	case wire.ActionInteract:
		game.Interact(hero, input.Point, l.world)
	}
}

// drainSpawnRequests answers entity lookups with spawn events on the
// requester's reliable channel.
func (l *Loop) drainSpawnRequests() {
	for {
		select {
		case req := <-l.net.spawnQueue:
			entity, ok := l.world.Resolve(req.entityName)
			if !ok {
				l.logger.Warn("spawn request for unknown entity",
					logging.String("entity", req.entityName))
				continue
			}
			event := wire.EntitySpawnEvent{
				EntityName:    entity.Name,
				Position:      entity.Position,
				ViewDirection: string(entity.ViewDirection),
				TexturePath:   entity.TexturePath,
				Animation:     entity.Animation,
			}
			if entity.Tint != nil {
				event.Tint = *entity.Tint
			}
			l.net.SendReliable(req.handle, event)
		default:
			return
		}
	}
}

func (l *Loop) emitSnapshot(tick int64) {
	snap, ok := l.translator.TranslateToSnapshot(tick, l.world)
	if !ok {
		return
	}
	l.net.BroadcastDatagram(snap)
	l.broadcasts.Add(1)
	if l.recorder != nil {
		l.recorder.RecordSnapshot(snap)
	}
}

func (l *Loop) advanceLevelOnTick() {
	if l.catalog.Advance() {
		level := l.catalog.CurrentLevel()
		l.logger.Info("level transition", logging.String("level", level))
		l.net.BroadcastReliable(wire.LevelChange{LevelName: level})
		return
	}
	l.logger.Info("campaign exhausted, broadcasting game over")
	l.net.BroadcastReliable(wire.GameOver{})
}
