// Package netcode exposes the startup surface the host process uses to run
// the multiplayer subsystem: New returns a Handler for server or client mode,
// and NewLocal builds the single-process local stand-in.
package netcode

import (
	"errors"
	"fmt"

	"deepdelve/netcore/internal/client"
	"deepdelve/netcore/internal/dispatch"
	"deepdelve/netcore/internal/game"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/replay"
	"deepdelve/netcore/internal/server"
	"deepdelve/netcore/internal/session"
	"deepdelve/netcore/internal/snapshot"
	"deepdelve/netcore/internal/wire"
)

// ErrNoTranslator is the integration error for a missing snapshot translator.
var ErrNoTranslator = errors.New("netcode: snapshot translator not set; call SetSnapshotTranslator before Start")

// ConnectionListener is re-exported so hosts only import this package.
type ConnectionListener = client.ConnectionListener

// Handler is the narrow surface handed to the host process.
type Handler interface {
	// Start opens the transport. Server mode binds; client mode dials.
	Start() error
	// Stop tears the transport down. Idempotent.
	Stop(reason string)
	// PollAndDispatch drains lifecycle callbacks, then inbound messages, on
	// the caller's thread. The host calls this once per frame.
	PollAndDispatch()
	// SendInput forwards one player intent on the datagram channel.
	SendInput(action wire.Action, point wire.Point)
	// Send forwards one control message on the reliable channel.
	Send(msg wire.Message)
	// AddConnectionListener registers a lifecycle observer.
	AddConnectionListener(listener ConnectionListener)
	// RemoveConnectionListener removes a lifecycle observer.
	RemoveConnectionListener(listener ConnectionListener)
	// SetSnapshotTranslator injects the translator. Required before Start.
	SetSnapshotTranslator(translator snapshot.Translator)
	// Dispatcher exposes handler registration for received variants.
	Dispatcher() *dispatch.Dispatcher
	// IsServer reports whether this handler owns the authoritative state.
	IsServer() bool
}

// Options carries the collaborator interfaces and tuning knobs.
type Options struct {
	// World is the entity store collaborator. Required.
	World game.World
	// Catalog is the level pipeline collaborator. Required in server mode.
	Catalog game.LevelCatalog
	// TickHz and SnapshotHz configure the authoritative loop (server mode).
	TickHz     int
	SnapshotHz int
	// Recorder, when set, persists broadcast snapshots (server mode).
	Recorder *replay.Recorder
	// Logger defaults to the process-global logger.
	Logger *logging.Logger
}

// New builds a Handler for the requested mode. Use NewLocal for the
// single-process stand-in.
func New(isServer bool, host string, port int, playerName string, opts Options) (Handler, error) {
	if opts.World == nil {
		return nil, errors.New("netcode: entity world collaborator is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	if isServer {
		if opts.Catalog == nil {
			return nil, errors.New("netcode: level catalog collaborator is required in server mode")
		}
		return &serverHandler{opts: opts, port: port}, nil
	}
	return &clientHandler{opts: opts, host: host, port: port, playerName: playerName}, nil
}

// ---------- server mode ----------

// serverHandler runs the authoritative endpoint and tick loop behind the
// Handler surface. Lifecycle listeners are not meaningful on the authority and
// are accepted as no-ops.
type serverHandler struct {
	opts Options
	port int

	translator snapshot.Translator
	dispatcher *dispatch.Dispatcher

	registry *session.Registry
	service  *server.Service
	loop     *server.Loop

	started bool
}

func (s *serverHandler) Start() error {
	if s.started {
		s.opts.Logger.Warn("server handler already started")
		return nil
	}
	if s.translator == nil {
		return ErrNoTranslator
	}

	s.dispatcher = dispatch.NewDispatcher(s.opts.Logger)
	s.registry = session.NewRegistry()
	s.service = server.NewService(s.port, s.registry, s.opts.Catalog, s.opts.Logger)
	if err := s.service.Start(); err != nil {
		return fmt.Errorf("netcode server start: %w", err)
	}

	var loopOpts []server.LoopOption
	if s.opts.Recorder != nil {
		loopOpts = append(loopOpts, server.WithRecorder(s.opts.Recorder))
	}
	s.loop = server.NewLoop(s.service, s.registry, s.opts.World, s.opts.Catalog,
		s.translator, s.opts.TickHz, s.opts.SnapshotHz, s.opts.Logger, loopOpts...)
	s.loop.Start()
	s.started = true
	return nil
}

func (s *serverHandler) Stop(reason string) {
	if !s.started {
		return
	}
	s.started = false
	s.loop.Stop()
	s.service.Stop()
	s.opts.Logger.Info("server handler stopped", logging.String("reason", reason))
}

func (s *serverHandler) PollAndDispatch() {}

func (s *serverHandler) SendInput(action wire.Action, point wire.Point) {
	s.opts.Logger.Warn("SendInput has no meaning on the authoritative side")
}

// Send broadcasts a control message to every connected client.
func (s *serverHandler) Send(msg wire.Message) {
	if !s.started {
		s.opts.Logger.Warn("server handler not started, dropping broadcast")
		return
	}
	s.service.BroadcastReliable(msg)
}

func (s *serverHandler) AddConnectionListener(ConnectionListener)    {}
func (s *serverHandler) RemoveConnectionListener(ConnectionListener) {}

func (s *serverHandler) SetSnapshotTranslator(translator snapshot.Translator) {
	if translator != nil {
		s.translator = translator
	}
}

func (s *serverHandler) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }
func (s *serverHandler) IsServer() bool                   { return true }

// AdvanceLevel triggers a level transition broadcast.
func (s *serverHandler) AdvanceLevel() {
	if s.started {
		s.loop.AdvanceLevel()
	}
}

// Stats exposes loop counters for the ops endpoint.
func (s *serverHandler) Stats() server.LoopStats {
	if !s.started {
		return server.LoopStats{}
	}
	return s.loop.Stats()
}

// SessionCount reports connected sessions for the ops endpoint.
func (s *serverHandler) SessionCount() int {
	if !s.started {
		return 0
	}
	return s.registry.Len()
}

// AddBroadcastObserver taps encoded snapshot broadcasts (spectator feed).
func (s *serverHandler) AddBroadcastObserver(fn func(payload []byte)) {
	if s.started {
		s.service.AddBroadcastObserver(fn)
	}
}

// ---------- client mode ----------

// clientHandler adapts the client endpoint to the Handler surface and applies
// received snapshots to the local mirror on the game thread.
type clientHandler struct {
	opts       Options
	host       string
	port       int
	playerName string

	translator snapshot.Translator
	inner      *client.Handler
	started    bool
}

func (c *clientHandler) Start() error {
	if c.started {
		c.opts.Logger.Warn("client handler already started")
		return nil
	}
	if c.translator == nil {
		return ErrNoTranslator
	}

	inner := c.ensureInner()

	// Default variant handlers; registration always takes the latest, so the
	// host may replace either of them after Start. A handler for these two
	// variants registered before Start is overwritten here.
	dispatch.Register(inner.Dispatcher(), func(snap wire.Snapshot) {
		c.translator.ApplySnapshot(snap, c.opts.World)
	})
	dispatch.Register(inner.Dispatcher(), func(event wire.EntitySpawnEvent) {
		c.applySpawnEvent(event)
	})

	if err := inner.Start(); err != nil {
		return err
	}
	c.started = true
	return nil
}

// ensureInner creates the endpoint on first use so listeners and handlers may
// be registered before Start.
func (c *clientHandler) ensureInner() *client.Handler {
	if c.inner == nil {
		c.inner = client.NewHandler(c.host, c.port, c.playerName, c.opts.Logger)
	}
	return c.inner
}

// applySpawnEvent creates the local mirror entity described by a spawn event.
func (c *clientHandler) applySpawnEvent(event wire.EntitySpawnEvent) {
	entity := &game.Entity{
		Name:        event.EntityName,
		Position:    event.Position,
		TexturePath: event.TexturePath,
		Animation:   event.Animation,
	}
	if dir, ok := game.ParseDirection(event.ViewDirection); ok {
		entity.ViewDirection = dir
	}
	if event.Tint != 0 {
		tint := event.Tint
		entity.Tint = &tint
	}
	c.opts.World.Spawn(entity)
}

func (c *clientHandler) Stop(reason string) {
	if !c.started {
		return
	}
	c.started = false
	c.inner.Shutdown(reason)
}

func (c *clientHandler) PollAndDispatch() {
	if c.inner != nil {
		c.inner.PollAndDispatch()
	}
}

func (c *clientHandler) SendInput(action wire.Action, point wire.Point) {
	if c.inner == nil {
		c.opts.Logger.Warn("client handler not started, dropping input")
		return
	}
	c.inner.SendInput(action, point)
}

func (c *clientHandler) Send(msg wire.Message) {
	if c.inner == nil {
		c.opts.Logger.Warn("client handler not started, dropping message")
		return
	}
	c.inner.Send(msg)
}

func (c *clientHandler) AddConnectionListener(listener ConnectionListener) {
	c.ensureInner().AddConnectionListener(listener)
}

func (c *clientHandler) RemoveConnectionListener(listener ConnectionListener) {
	if c.inner != nil {
		c.inner.RemoveConnectionListener(listener)
	}
}

func (c *clientHandler) SetSnapshotTranslator(translator snapshot.Translator) {
	if translator != nil {
		c.translator = translator
	}
}

func (c *clientHandler) Dispatcher() *dispatch.Dispatcher {
	return c.ensureInner().Dispatcher()
}

func (c *clientHandler) IsServer() bool { return false }

// ClientID returns the server-assigned id, or 0 before acknowledgement.
func (c *clientHandler) ClientID() int32 {
	if c.inner == nil {
		return 0
	}
	return c.inner.ClientID()
}
