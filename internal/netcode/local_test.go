package netcode

import (
	"errors"
	"testing"

	"deepdelve/netcore/internal/dispatch"
	"deepdelve/netcore/internal/game"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/snapshot"
	"deepdelve/netcore/internal/wire"
)

type countingListener struct {
	connected    int
	disconnected int
	lastCause    error
}

func (l *countingListener) OnConnected()               { l.connected++ }
func (l *countingListener) OnDisconnected(cause error) { l.disconnected++; l.lastCause = cause }

func startedLocal(t *testing.T, world game.World) *LocalHandler {
	t.Helper()
	handler := NewLocal(world, "Alice", logging.NewTestLogger())
	handler.SetSnapshotTranslator(snapshot.NewDefault(logging.NewTestLogger()))
	if err := handler.Start(); err != nil {
		t.Fatalf("start local handler: %v", err)
	}
	return handler
}

func TestLocalStartRequiresTranslator(t *testing.T) {
	handler := NewLocal(game.NewMemoryWorld(), "Alice", logging.NewTestLogger())
	if err := handler.Start(); !errors.Is(err, ErrNoTranslator) {
		t.Fatalf("expected ErrNoTranslator, got %v", err)
	}
}

func TestLocalInputRoutesThroughDispatcherOnPoll(t *testing.T) {
	world := game.NewMemoryWorld()
	hero := game.NewHero("Alice", wire.Point{X: 1, Y: 1})
	world.Spawn(hero)

	handler := startedLocal(t, world)
	handler.SendInput(wire.ActionMove, wire.Point{X: 1, Y: 0})

	// Nothing may happen until the game thread polls.
	if hero.Force.X != 0 {
		t.Fatalf("input must not apply before the poll step")
	}

	handler.PollAndDispatch()
	if hero.Force.X == 0 {
		t.Fatalf("input must apply during the poll step")
	}
}

func TestLocalTriggerStateUpdateEmitsSnapshots(t *testing.T) {
	world := game.NewMemoryWorld()
	world.Spawn(game.NewHero("Alice", wire.Point{X: 4, Y: 2}))

	handler := startedLocal(t, world)

	var received []wire.Snapshot
	dispatch.Register(handler.Dispatcher(), func(snap wire.Snapshot) {
		received = append(received, snap)
	})

	handler.TriggerStateUpdate()
	handler.TriggerStateUpdate()
	handler.PollAndDispatch()

	if len(received) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(received))
	}
	if received[0].ServerTick >= received[1].ServerTick {
		t.Fatalf("local ticks must increase: %d then %d", received[0].ServerTick, received[1].ServerTick)
	}
	if received[0].Entities[0].EntityName != "hero-Alice" {
		t.Fatalf("unexpected entity %q", received[0].Entities[0].EntityName)
	}
}

func TestLocalLifecycleCallbacksRunOnPoll(t *testing.T) {
	handler := startedLocal(t, game.NewMemoryWorld())

	listener := &countingListener{}
	handler.AddConnectionListener(listener)
	// Connected was enqueued by Start before the listener registered; stop and
	// verify the disconnect path.
	handler.PollAndDispatch()

	handler.Stop("done")
	handler.Stop("done twice")
	handler.PollAndDispatch()

	if listener.disconnected != 1 {
		t.Fatalf("disconnect must fire exactly once, fired %d times", listener.disconnected)
	}
	if listener.lastCause == nil || listener.lastCause.Error() != "done" {
		t.Fatalf("unexpected cause %v", listener.lastCause)
	}
}

func TestNewValidatesCollaborators(t *testing.T) {
	if _, err := New(true, "", 7777, "", Options{}); err == nil {
		t.Fatalf("server mode without world must fail")
	}
	if _, err := New(true, "", 7777, "", Options{World: game.NewMemoryWorld()}); err == nil {
		t.Fatalf("server mode without catalog must fail")
	}
	if _, err := New(false, "127.0.0.1", 7777, "Alice", Options{World: game.NewMemoryWorld()}); err != nil {
		t.Fatalf("client mode needs only a world: %v", err)
	}
}

func TestHandlersRequireTranslatorBeforeStart(t *testing.T) {
	world := game.NewMemoryWorld()
	catalog := game.NewStaticCatalog(game.Level{Name: "maze"})

	serverSide, err := New(true, "", 0, "", Options{World: world, Catalog: catalog})
	if err != nil {
		t.Fatalf("New server: %v", err)
	}
	if err := serverSide.Start(); !errors.Is(err, ErrNoTranslator) {
		t.Fatalf("server start without translator: got %v", err)
	}

	clientSide, err := New(false, "127.0.0.1", 7777, "Alice", Options{World: world})
	if err != nil {
		t.Fatalf("New client: %v", err)
	}
	if err := clientSide.Start(); !errors.Is(err, ErrNoTranslator) {
		t.Fatalf("client start without translator: got %v", err)
	}
}
