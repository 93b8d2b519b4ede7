package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrFraming marks malformed, truncated, or oversized transport frames.
	ErrFraming = errors.New("framing error")
	// ErrUnknownVariant marks a payload whose tag is outside the closed set.
	ErrUnknownVariant = errors.New("unknown message variant")
	// ErrConstraint marks a payload that decoded but violates a value-level rule.
	ErrConstraint = errors.New("constraint violation")
)

// envelope is the self-describing on-wire shape of every payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// decoders maps a variant tag onto its typed decode function.
var decoders = map[string]func(json.RawMessage) (Message, error){
	TypeConnectRequest: func(raw json.RawMessage) (Message, error) {
		var m ConnectRequest
		return m, unmarshalInto(raw, &m)
	},
	TypeRegisterUDP: func(raw json.RawMessage) (Message, error) {
		var m RegisterUDP
		if err := unmarshalInto(raw, &m); err != nil {
			return nil, err
		}
		if m.ClientID <= 0 {
			return nil, fmt.Errorf("%w: register_udp client id %d", ErrConstraint, m.ClientID)
		}
		return m, nil
	},
	TypeInput: func(raw json.RawMessage) (Message, error) {
		var m Input
		if err := unmarshalInto(raw, &m); err != nil {
			return nil, err
		}
		if !m.Action.Valid() {
			return nil, fmt.Errorf("%w: input action %d", ErrConstraint, m.Action)
		}
		return m, nil
	},
	TypeRequestEntitySpawn: func(raw json.RawMessage) (Message, error) {
		var m RequestEntitySpawn
		if err := unmarshalInto(raw, &m); err != nil {
			return nil, err
		}
		if m.EntityName == "" {
			return nil, fmt.Errorf("%w: request_entity_spawn without entity name", ErrConstraint)
		}
		return m, nil
	},
	TypeConnectAck: func(raw json.RawMessage) (Message, error) {
		var m ConnectAck
		if err := unmarshalInto(raw, &m); err != nil {
			return nil, err
		}
		if m.ClientID <= 0 {
			return nil, fmt.Errorf("%w: connect_ack client id %d", ErrConstraint, m.ClientID)
		}
		return m, nil
	},
	TypeConnectReject: func(raw json.RawMessage) (Message, error) {
		var m ConnectReject
		return m, unmarshalInto(raw, &m)
	},
	TypeLevelChange: func(raw json.RawMessage) (Message, error) {
		var m LevelChange
		return m, unmarshalInto(raw, &m)
	},
	TypeEntitySpawnEvent: func(raw json.RawMessage) (Message, error) {
		var m EntitySpawnEvent
		if err := unmarshalInto(raw, &m); err != nil {
			return nil, err
		}
		if m.EntityName == "" {
			return nil, fmt.Errorf("%w: entity_spawn_event without entity name", ErrConstraint)
		}
		return m, nil
	},
	TypeSnapshot: func(raw json.RawMessage) (Message, error) {
		var m Snapshot
		if err := unmarshalInto(raw, &m); err != nil {
			return nil, err
		}
		if m.ServerTick < 0 {
			return nil, fmt.Errorf("%w: snapshot with negative server tick %d", ErrConstraint, m.ServerTick)
		}
		for _, entity := range m.Entities {
			if entity.EntityName == "" {
				return nil, fmt.Errorf("%w: snapshot entity without name", ErrConstraint)
			}
		}
		return m, nil
	},
	TypeGameOver: func(raw json.RawMessage) (Message, error) {
		return GameOver{}, nil
	},
}

func unmarshalInto(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty variant body", ErrConstraint)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return nil
}

// Encode serializes a message into its tagged payload bytes.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrConstraint)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Data: data})
}

// Decode parses tagged payload bytes back into a typed message. The returned
// error wraps ErrFraming, ErrUnknownVariant, or ErrConstraint so transports can
// act on the failure kind without string matching.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrFraming)
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: payload without type tag", ErrFraming)
	}
	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, env.Type)
	}
	return decode(env.Data)
}
