package proto

import (
	"github.com/go-gl/mathgl/mgl64"

	"mirage/server/internal/actor"
)

// Transport delivers packets to a single viewer. Every call is
// fire-and-forget: implementations log failures and never block the caller
// on network I/O.
type Transport interface {
	Spawn(viewer string, snapshot actor.Snapshot)
	Despawn(viewer string, networkID int64)
	Teleport(viewer string, networkID int64, position mgl64.Vec3, yaw, pitch float64)
	Move(viewer string, networkID int64, delta mgl64.Vec3, yaw, pitch float64)
	UpdateMetadata(viewer string, networkID int64, fields Metadata)
	PlayAnimation(viewer string, networkID int64, kind Animation)
}

// Nop discards every packet.
type Nop struct{}

func (Nop) Spawn(string, actor.Snapshot)                         {}
func (Nop) Despawn(string, int64)                                {}
func (Nop) Teleport(string, int64, mgl64.Vec3, float64, float64) {}
func (Nop) Move(string, int64, mgl64.Vec3, float64, float64)     {}
func (Nop) UpdateMetadata(string, int64, Metadata)               {}
func (Nop) PlayAnimation(string, int64, Animation)               {}

// Sender adapts a function receiving typed packets into a Transport.
type Sender func(viewer string, packet Packet)

func (s Sender) send(viewer string, packet Packet) {
	if s == nil || viewer == "" {
		return
	}
	s(viewer, packet)
}

func (s Sender) Spawn(viewer string, snapshot actor.Snapshot) {
	s.send(viewer, Spawn{Actor: snapshot})
}

func (s Sender) Despawn(viewer string, networkID int64) {
	s.send(viewer, Despawn{NetworkID: networkID})
}

func (s Sender) Teleport(viewer string, networkID int64, position mgl64.Vec3, yaw, pitch float64) {
	s.send(viewer, Teleport{NetworkID: networkID, Position: position, Yaw: yaw, Pitch: pitch})
}

func (s Sender) Move(viewer string, networkID int64, delta mgl64.Vec3, yaw, pitch float64) {
	s.send(viewer, Move{NetworkID: networkID, Delta: delta, Yaw: yaw, Pitch: pitch})
}

func (s Sender) UpdateMetadata(viewer string, networkID int64, fields Metadata) {
	s.send(viewer, MetadataUpdate{NetworkID: networkID, Fields: fields})
}

func (s Sender) PlayAnimation(viewer string, networkID int64, kind Animation) {
	s.send(viewer, PlayAnimation{NetworkID: networkID, Kind: kind})
}

// BroadcastMetadata sends the same fields to each viewer.
func BroadcastMetadata(t Transport, viewers []string, networkID int64, fields Metadata) {
	if t == nil {
		return
	}
	for _, viewer := range viewers {
		t.UpdateMetadata(viewer, networkID, fields)
	}
}

// BroadcastAnimation plays kind for each viewer.
func BroadcastAnimation(t Transport, viewers []string, networkID int64, kind Animation) {
	if t == nil {
		return
	}
	for _, viewer := range viewers {
		t.PlayAnimation(viewer, networkID, kind)
	}
}
