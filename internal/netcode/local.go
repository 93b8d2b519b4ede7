package netcode

import (
	"errors"
	"sync"

	"deepdelve/netcore/internal/dispatch"
	"deepdelve/netcore/internal/game"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/snapshot"
	"deepdelve/netcore/internal/wire"
)

// localClientID is the fixed id the single-process stand-in assigns itself.
const localClientID int32 = 1

// LocalHandler is the single-process stand-in for games without a remote
// authority. It implements the same Handler surface and routes every piece of
// work through the dispatcher on the game thread, so gameplay code behaves
// identically under local and networked play.
type LocalHandler struct {
	logger     *logging.Logger
	world      game.World
	playerName string

	dispatcher *dispatch.Dispatcher
	translator snapshot.Translator

	queueMu sync.Mutex
	queue   []wire.Message

	lifecycleMu sync.Mutex
	lifecycle   []func()

	listenerMu sync.Mutex
	listeners  []ConnectionListener

	localTick int64
	started   bool
}

// NewLocal builds a LocalHandler over the host's world.
func NewLocal(world game.World, playerName string, logger *logging.Logger) *LocalHandler {
	if logger == nil {
		logger = logging.L()
	}
	h := &LocalHandler{
		logger:     logger,
		world:      world,
		playerName: playerName,
		dispatcher: dispatch.NewDispatcher(logger),
	}
	// Inputs take the same dispatcher path as the authoritative server.
	dispatch.Register(h.dispatcher, h.applyInput)
	return h
}

// Start marks the handler connected and notifies listeners on the next poll.
func (h *LocalHandler) Start() error {
	if h.started {
		h.logger.Warn("local handler already started")
		return nil
	}
	if h.translator == nil {
		return ErrNoTranslator
	}
	h.started = true
	h.enqueueLifecycle(h.notifyConnected)
	h.logger.Info("local handler started")
	return nil
}

// Stop disconnects the stand-in. Idempotent.
func (h *LocalHandler) Stop(reason string) {
	if !h.started {
		return
	}
	h.started = false
	cause := errors.New(reason)
	h.enqueueLifecycle(func() { h.notifyDisconnected(cause) })
	h.logger.Info("local handler stopped", logging.String("reason", reason))
}

// PollAndDispatch drains lifecycle callbacks, then queued messages.
func (h *LocalHandler) PollAndDispatch() {
	h.lifecycleMu.Lock()
	lifecycle := h.lifecycle
	h.lifecycle = nil
	h.lifecycleMu.Unlock()
	for _, fn := range lifecycle {
		fn()
	}

	h.queueMu.Lock()
	queue := h.queue
	h.queue = nil
	h.queueMu.Unlock()
	for _, msg := range queue {
		h.dispatcher.Dispatch(msg)
	}
}

// SendInput enqueues the intent for the next poll, stamped with the local id.
func (h *LocalHandler) SendInput(action wire.Action, point wire.Point) {
	if !h.started {
		h.logger.Info("local handler not running, dropping input")
		return
	}
	h.enqueue(wire.Input{ClientID: localClientID, Action: action, Point: point})
}

// Send enqueues a control message for the next poll.
func (h *LocalHandler) Send(msg wire.Message) {
	if !h.started || msg == nil {
		return
	}
	h.enqueue(msg)
}

// AddConnectionListener registers a lifecycle observer.
func (h *LocalHandler) AddConnectionListener(listener ConnectionListener) {
	if listener == nil {
		return
	}
	h.listenerMu.Lock()
	h.listeners = append(h.listeners, listener)
	h.listenerMu.Unlock()
}

// RemoveConnectionListener removes a lifecycle observer.
func (h *LocalHandler) RemoveConnectionListener(listener ConnectionListener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	for i, l := range h.listeners {
		if l == listener {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

// SetSnapshotTranslator injects the translator used by TriggerStateUpdate.
func (h *LocalHandler) SetSnapshotTranslator(translator snapshot.Translator) {
	if translator != nil {
		h.translator = translator
	}
}

// Dispatcher exposes handler registration.
func (h *LocalHandler) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// IsServer reports true: in local play this handler is the authority.
func (h *LocalHandler) IsServer() bool { return true }

// TriggerStateUpdate emits a snapshot of the local world through the regular
// dispatch path, simulating the periodic server broadcast. The game loop calls
// this at its own cadence.
func (h *LocalHandler) TriggerStateUpdate() {
	if !h.started {
		return
	}
	h.localTick++
	snap, ok := h.translator.TranslateToSnapshot(h.localTick, h.world)
	if !ok {
		return
	}
	h.enqueue(snap)
}

// applyInput mirrors the authoritative server's intent handling against the
// local hero entity.
func (h *LocalHandler) applyInput(input wire.Input) {
	hero, ok := h.world.Resolve("hero-" + h.playerName)
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
		game.Interact(hero, input.Point, h.world)
	}
}

func (h *LocalHandler) enqueue(msg wire.Message) {
	h.queueMu.Lock()
	h.queue = append(h.queue, msg)
	h.queueMu.Unlock()
}

func (h *LocalHandler) enqueueLifecycle(fn func()) {
	h.lifecycleMu.Lock()
	h.lifecycle = append(h.lifecycle, fn)
	h.lifecycleMu.Unlock()
}

func (h *LocalHandler) notifyConnected() {
	for _, listener := range h.snapshotListeners() {
		listener.OnConnected()
	}
}

func (h *LocalHandler) notifyDisconnected(cause error) {
	for _, listener := range h.snapshotListeners() {
		listener.OnDisconnected(cause)
	}
}

func (h *LocalHandler) snapshotListeners() []ConnectionListener {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	return append([]ConnectionListener(nil), h.listeners...)
}
