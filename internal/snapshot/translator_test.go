package snapshot

import (
	"math"
	"testing"

	"deepdelve/netcore/internal/game"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/wire"
)

func serverWorld() *game.MemoryWorld {
	world := game.NewMemoryWorld()
	world.Spawn(game.NewHero("Alice", wire.Point{X: 3, Y: 4}))
	world.Spawn(&game.Entity{Name: "rat", Position: wire.Point{X: 1, Y: 1}, Animation: "scurry"})
	return world
}

func TestTranslateToSnapshotCollectsEntityState(t *testing.T) {
	translator := NewDefault(logging.NewTestLogger())

	snap, ok := translator.TranslateToSnapshot(1, serverWorld())
	if !ok {
		t.Fatalf("first tick must produce a snapshot")
	}
	if snap.ServerTick != 1 || len(snap.Entities) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	hero := snap.Entities[0]
	if hero.EntityName != "hero-Alice" {
		t.Fatalf("unexpected entity name %q", hero.EntityName)
	}
	if hero.Position.X != 3 || hero.Position.Y != 4 {
		t.Fatalf("unexpected hero position %+v", hero.Position)
	}
	if hero.CurrentHealth == nil || hero.MaxHealth == nil {
		t.Fatalf("hero health must be present")
	}
	if snap.Entities[1].CurrentHealth != nil {
		t.Fatalf("rat has no health block")
	}
}

func TestTranslateSkipsStaleTicks(t *testing.T) {
	translator := NewDefault(logging.NewTestLogger())
	world := serverWorld()

	if _, ok := translator.TranslateToSnapshot(5, world); !ok {
		t.Fatalf("tick 5 must be accepted")
	}
	if _, ok := translator.TranslateToSnapshot(5, world); ok {
		t.Fatalf("repeated tick must be skipped")
	}
	if _, ok := translator.TranslateToSnapshot(4, world); ok {
		t.Fatalf("older tick must be skipped")
	}
	if _, ok := translator.TranslateToSnapshot(6, world); !ok {
		t.Fatalf("newer tick must be accepted")
	}
}

func TestTickGuardWrapAllowance(t *testing.T) {
	translator := NewDefault(logging.NewTestLogger())
	world := serverWorld()

	if _, ok := translator.TranslateToSnapshot(math.MaxInt64-1, world); !ok {
		t.Fatalf("tick near the numeric maximum must be accepted")
	}
	// Inside the wrap window the guard resets, so a small tick is valid again.
	if _, ok := translator.TranslateToSnapshot(1, world); !ok {
		t.Fatalf("wrapped tick must be accepted after the reset window")
	}
}

func TestApplySnapshotOverwritesMirror(t *testing.T) {
	translator := NewDefault(logging.NewTestLogger())

	mirror := game.NewMemoryWorld()
	mirror.Spawn(&game.Entity{Name: "hero-Alice", Position: wire.Point{}})

	hp, maxHP, tint := int32(7), int32(20), int32(0x00FF00)
	translator.ApplySnapshot(wire.Snapshot{ServerTick: 10, Entities: []wire.EntityState{{
		EntityName:    "hero-Alice",
		Position:      wire.Point{X: 2, Y: 9},
		ViewDirection: "left",
		Animation:     "run",
		CurrentHealth: &hp,
		MaxHealth:     &maxHP,
		Tint:          &tint,
	}}}, mirror)

	entity, _ := mirror.Resolve("hero-Alice")
	if entity.Position.X != 2 || entity.Position.Y != 9 {
		t.Fatalf("position not applied: %+v", entity.Position)
	}
	if entity.ViewDirection != game.DirectionLeft {
		t.Fatalf("view direction not applied: %q", entity.ViewDirection)
	}
	if entity.Animation != "run" {
		t.Fatalf("animation not applied: %q", entity.Animation)
	}
	if entity.Health == nil || entity.Health.Current != 7 || entity.Health.Max != 20 {
		t.Fatalf("health not applied: %+v", entity.Health)
	}
	if entity.Tint == nil || *entity.Tint != 0x00FF00 {
		t.Fatalf("tint not applied")
	}
}

func TestApplySnapshotDropsOutOfOrderTicks(t *testing.T) {
	translator := NewDefault(logging.NewTestLogger())

	mirror := game.NewMemoryWorld()
	mirror.Spawn(&game.Entity{Name: "hero-Alice"})

	translator.ApplySnapshot(wire.Snapshot{ServerTick: 100, Entities: []wire.EntityState{{
		EntityName: "hero-Alice", Position: wire.Point{X: 100, Y: 0},
	}}}, mirror)
	translator.ApplySnapshot(wire.Snapshot{ServerTick: 99, Entities: []wire.EntityState{{
		EntityName: "hero-Alice", Position: wire.Point{X: 99, Y: 0},
	}}}, mirror)

	entity, _ := mirror.Resolve("hero-Alice")
	if entity.Position.X != 100 {
		t.Fatalf("reordered datagram must not change state, got x=%v", entity.Position.X)
	}
}

func TestApplySnapshotIgnoresInvalidFieldValues(t *testing.T) {
	translator := NewDefault(logging.NewTestLogger())

	mirror := game.NewMemoryWorld()
	mirror.Spawn(&game.Entity{Name: "hero-Alice", ViewDirection: game.DirectionUp})

	translator.ApplySnapshot(wire.Snapshot{ServerTick: 1, Entities: []wire.EntityState{{
		EntityName:    "hero-Alice",
		Position:      wire.Point{X: 1, Y: 1},
		ViewDirection: "diagonal",
	}}}, mirror)

	entity, _ := mirror.Resolve("hero-Alice")
	if entity.ViewDirection != game.DirectionUp {
		t.Fatalf("invalid direction must be ignored, got %q", entity.ViewDirection)
	}
	if entity.Position.X != 1 {
		t.Fatalf("valid fields must still apply")
	}
}

func TestApplySnapshotReportsMissingEntities(t *testing.T) {
	translator := NewDefault(logging.NewTestLogger())

	var missing []string
	translator.OnMissingEntity = func(name string) { missing = append(missing, name) }

	translator.ApplySnapshot(wire.Snapshot{ServerTick: 1, Entities: []wire.EntityState{{
		EntityName: "ghost", Position: wire.Point{X: 1, Y: 1},
	}}}, game.NewMemoryWorld())

	if len(missing) != 1 || missing[0] != "ghost" {
		t.Fatalf("missing entity hook not invoked: %v", missing)
	}
}
