// Package wire defines the closed message set exchanged between client and
// server together with its tagged serialization and transport framing.
package wire

import "fmt"

// Point is a 2D world coordinate.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Action enumerates the player intents carried by Input messages.
type Action int32

const (
	ActionMove Action = iota
	ActionMovePath
	ActionCastSkill
	ActionInteract
)

// Valid reports whether the action is part of the closed intent set.
func (a Action) Valid() bool {
	return a >= ActionMove && a <= ActionInteract
}

func (a Action) String() string {
	switch a {
	case ActionMove:
		return "move"
	case ActionMovePath:
		return "move_path"
	case ActionCastSkill:
		return "cast_skill"
	case ActionInteract:
		return "interact"
	default:
		return fmt.Sprintf("action(%d)", int32(a))
	}
}

// Variant tags. Adding a tag is backward compatible; changing the fields of an
// existing variant is not.
const (
	TypeConnectRequest     = "connect_request"
	TypeRegisterUDP        = "register_udp"
	TypeInput              = "input"
	TypeRequestEntitySpawn = "request_entity_spawn"

	TypeConnectAck       = "connect_ack"
	TypeConnectReject    = "connect_reject"
	TypeLevelChange      = "level_change"
	TypeEntitySpawnEvent = "entity_spawn_event"
	TypeSnapshot         = "snapshot"
	TypeGameOver         = "game_over"
)

// Message is implemented by every wire variant.
type Message interface {
	Type() string
}

// ConnectRequest opens the handshake on the reliable channel.
type ConnectRequest struct {
	PlayerName string `json:"player_name"`
}

// Type implements Message.
func (ConnectRequest) Type() string { return TypeConnectRequest }

// RegisterUDP binds the sender's datagram address to an acknowledged client id.
type RegisterUDP struct {
	ClientID int32 `json:"client_id"`
}

// Type implements Message.
func (RegisterUDP) Type() string { return TypeRegisterUDP }

// Input carries one player intent on the datagram channel.
type Input struct {
	ClientID int32  `json:"client_id"`
	Action   Action `json:"action"`
	Point    Point  `json:"point"`
}

// Type implements Message.
func (Input) Type() string { return TypeInput }

// RequestEntitySpawn asks the server to re-send the spawn event for an entity
// the client cannot resolve locally.
type RequestEntitySpawn struct {
	EntityName string `json:"entity_name"`
}

// Type implements Message.
func (RequestEntitySpawn) Type() string { return TypeRequestEntitySpawn }

// ConnectAck completes the handshake and assigns the client id.
type ConnectAck struct {
	ClientID int32 `json:"client_id"`
}

// Type implements Message.
func (ConnectAck) Type() string { return TypeConnectAck }

// ConnectReject refuses a handshake; the reliable channel closes afterwards.
type ConnectReject struct {
	Reason string `json:"reason"`
}

// Type implements Message.
func (ConnectReject) Type() string { return TypeConnectReject }

// LevelChange announces the active level. A nil spawn point means the client
// spawns at the level's start tile.
type LevelChange struct {
	LevelName  string `json:"level_name"`
	SpawnPoint *Point `json:"spawn_point,omitempty"`
}

// Type implements Message.
func (LevelChange) Type() string { return TypeLevelChange }

// EntitySpawnEvent describes an entity well enough for a client to create a
// local mirror of it.
type EntitySpawnEvent struct {
	EntityName    string `json:"entity_name"`
	Position      Point  `json:"position"`
	ViewDirection string `json:"view_direction,omitempty"`
	TexturePath   string `json:"texture_path,omitempty"`
	Animation     string `json:"animation,omitempty"`
	Tint          int32  `json:"tint,omitempty"`
}

// Type implements Message.
func (EntitySpawnEvent) Type() string { return TypeEntitySpawnEvent }

// EntityState is the compact per-entity record inside a snapshot. Position is
// always present; the remaining fields are optional.
type EntityState struct {
	EntityName    string `json:"name"`
	Position      Point  `json:"pos"`
	ViewDirection string `json:"dir,omitempty"`
	CurrentHealth *int32 `json:"hp,omitempty"`
	MaxHealth     *int32 `json:"max_hp,omitempty"`
	Animation     string `json:"anim,omitempty"`
	Tint          *int32 `json:"tint,omitempty"`
}

// Snapshot is the periodic authoritative world broadcast. Server ticks are
// strictly increasing per server run.
type Snapshot struct {
	ServerTick int64         `json:"server_tick"`
	Entities   []EntityState `json:"entities"`
}

// Type implements Message.
func (Snapshot) Type() string { return TypeSnapshot }

// GameOver signals campaign exhaustion.
type GameOver struct{}

// Type implements Message.
func (GameOver) Type() string { return TypeGameOver }
