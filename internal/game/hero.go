package game

import (
	"math"

	"deepdelve/netcore/internal/wire"
)

const (
	defaultHeroSpeed   = 0.25
	defaultHeroTexture = "character/knight"
	defaultHeroHealth  = 20

	// interactRange bounds how far from the requested point an interactable
	// may sit and still be triggered.
	interactRange = 1.0
)

// NewHero builds the authoritative hero mirror for a player, placed at the
// given start tile. The wire name is derived from the player name; underscores
// are rejected at connect time, so the derived name cannot collide with the
// reserved separator.
func NewHero(playerName string, start wire.Point) *Entity {
	return &Entity{
		Name:          "hero-" + playerName,
		Position:      start,
		ViewDirection: DirectionDown,
		Health:        &Health{Current: defaultHeroHealth, Max: defaultHeroHealth},
		TexturePath:   defaultHeroTexture,
		Animation:     "idle",
		Speed:         defaultHeroSpeed,
	}
}

// MoveHero applies a movement force derived from the input point. Consecutive
// forces within one frame accumulate and are renormalized to the hero's speed.
func MoveHero(hero *Entity, point wire.Point) {
	if hero == nil {
		return
	}
	force := wire.Point{X: hero.Force.X + point.X, Y: hero.Force.Y + point.Y}
	length := math.Hypot(float64(force.X), float64(force.Y))
	if length == 0 {
		return
	}
	speed := float64(hero.Speed)
	if speed <= 0 {
		speed = defaultHeroSpeed
	}
	hero.Force = wire.Point{
		X: float32(float64(force.X) / length * speed),
		Y: float32(float64(force.Y) / length * speed),
	}
	hero.Animation = "run"
}

// MoveHeroPath starts path following toward the target point.
func MoveHeroPath(hero *Entity, target wire.Point) {
	if hero == nil {
		return
	}
	t := target
	hero.PathTarget = &t
	hero.Animation = "run"
}

// UseSkill executes the hero's configured skill toward the target point.
func UseSkill(hero *Entity, target wire.Point) {
	if hero == nil {
		return
	}
	if dir := DirectionOf(wire.Point{X: target.X - hero.Position.X, Y: target.Y - hero.Position.Y}); dir != DirectionNone {
		hero.ViewDirection = dir
	}
	hero.Animation = "attack"
}

// Interact triggers the closest interactable within range of the point.
func Interact(hero *Entity, point wire.Point, world World) {
	if hero == nil || world == nil {
		return
	}
	var closest *Entity
	closestDist := math.Inf(1)
	world.Each(func(e *Entity) {
		if e == hero || e.OnInteract == nil {
			return
		}
		dist := math.Hypot(float64(e.Position.X-point.X), float64(e.Position.Y-point.Y))
		if dist <= interactRange && dist < closestDist {
			closest = e
			closestDist = dist
		}
	})
	if closest != nil {
		closest.OnInteract(hero)
	}
}
