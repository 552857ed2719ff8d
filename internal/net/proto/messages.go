// Package proto defines the packets exchanged with viewers and the
// fire-and-forget Transport the simulation sends them through.
package proto

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"

	"mirage/server/internal/actor"
)

// Version tracks the wire-protocol revision expected by clients.
const Version = 1

type Type string

// Server packet type identifiers.
const (
	TypeSpawn     Type = "spawn"
	TypeDespawn   Type = "despawn"
	TypeTeleport  Type = "teleport"
	TypeMove      Type = "move"
	TypeMetadata  Type = "metadata"
	TypeAnimation Type = "animation"
)

// Client message type identifiers.
const (
	TypePosition  Type = "position"
	TypeAttack    Type = "attack"
	TypeHeartbeat Type = "heartbeat"
)

type Animation string

const (
	AnimationHurt  Animation = "hurt"
	AnimationDeath Animation = "death"
	AnimationSwing Animation = "swing"
)

// Metadata carries entity fields that changed, keyed by field name.
type Metadata map[string]any

const (
	FieldHealth    = "health"
	FieldMaxHealth = "max_health"
	FieldName      = "name"
)

// Packet is any server-to-viewer message.
type Packet interface {
	PacketType() Type
}

type Spawn struct {
	Actor actor.Snapshot `msgpack:"actor"`
}

type Despawn struct {
	NetworkID int64 `msgpack:"nid"`
}

type Teleport struct {
	NetworkID int64      `msgpack:"nid"`
	Position  mgl64.Vec3 `msgpack:"pos"`
	Yaw       float64    `msgpack:"yaw"`
	Pitch     float64    `msgpack:"pitch"`
}

// Move is a relative position update.
type Move struct {
	NetworkID int64      `msgpack:"nid"`
	Delta     mgl64.Vec3 `msgpack:"delta"`
	Yaw       float64    `msgpack:"yaw"`
	Pitch     float64    `msgpack:"pitch"`
}

type MetadataUpdate struct {
	NetworkID int64    `msgpack:"nid"`
	Fields    Metadata `msgpack:"fields"`
}

type PlayAnimation struct {
	NetworkID int64     `msgpack:"nid"`
	Kind      Animation `msgpack:"kind"`
}

func (Spawn) PacketType() Type          { return TypeSpawn }
func (Despawn) PacketType() Type        { return TypeDespawn }
func (Teleport) PacketType() Type       { return TypeTeleport }
func (Move) PacketType() Type           { return TypeMove }
func (MetadataUpdate) PacketType() Type { return TypeMetadata }
func (PlayAnimation) PacketType() Type  { return TypeAnimation }

type envelope struct {
	Ver     int                `msgpack:"ver"`
	Type    Type               `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Encode frames packet in a versioned envelope.
func Encode(packet Packet) ([]byte, error) {
	if packet == nil {
		return nil, fmt.Errorf("encode: nil packet")
	}
	payload, err := msgpack.Marshal(packet)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", packet.PacketType(), err)
	}
	return msgpack.Marshal(envelope{Ver: Version, Type: packet.PacketType(), Payload: payload})
}

// Decode parses a server packet produced by Encode.
func Decode(data []byte) (Packet, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Ver != Version {
		return nil, fmt.Errorf("unsupported protocol version %d", env.Ver)
	}
	var (
		packet Packet
		err    error
	)
	switch env.Type {
	case TypeSpawn:
		var p Spawn
		err = msgpack.Unmarshal(env.Payload, &p)
		packet = p
	case TypeDespawn:
		var p Despawn
		err = msgpack.Unmarshal(env.Payload, &p)
		packet = p
	case TypeTeleport:
		var p Teleport
		err = msgpack.Unmarshal(env.Payload, &p)
		packet = p
	case TypeMove:
		var p Move
		err = msgpack.Unmarshal(env.Payload, &p)
		packet = p
	case TypeMetadata:
		var p MetadataUpdate
		err = msgpack.Unmarshal(env.Payload, &p)
		packet = p
	case TypeAnimation:
		var p PlayAnimation
		err = msgpack.Unmarshal(env.Payload, &p)
		packet = p
	default:
		return nil, fmt.Errorf("unknown packet type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return packet, nil
}

// ClientMessage captures an inbound message from a viewer.
type ClientMessage struct {
	Ver      int        `msgpack:"ver,omitempty"`
	Type     Type       `msgpack:"type"`
	World    string     `msgpack:"world,omitempty"`
	Position mgl64.Vec3 `msgpack:"pos,omitempty"`
	Alive    *bool      `msgpack:"alive,omitempty"`
	Mode     string     `msgpack:"mode,omitempty"`
	// Target is the network id of the creature being attacked.
	Target int64   `msgpack:"target,omitempty"`
	Damage float64 `msgpack:"damage,omitempty"`
}

// DecodeClientMessage converts a raw websocket frame into a ClientMessage.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// EncodeClientMessage is the client-side counterpart of DecodeClientMessage.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	return msgpack.Marshal(msg)
}
