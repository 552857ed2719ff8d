package proto

import (
	"sync"
)

// Sent is one packet captured by a Recorder.
type Sent struct {
	Viewer string
	Packet Packet
}

// Recorder is an in-memory Transport that keeps every packet in order.
type Recorder struct {
	Sender

	mu   sync.Mutex
	sent []Sent
}

func NewRecorder() *Recorder {
	r := &Recorder{}
	r.Sender = func(viewer string, packet Packet) {
		r.mu.Lock()
		r.sent = append(r.sent, Sent{Viewer: viewer, Packet: packet})
		r.mu.Unlock()
	}
	return r
}

func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// OfType returns the packets of the given type, optionally limited to one
// viewer when viewer is non-empty.
func (r *Recorder) OfType(kind Type, viewer string) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if s.Packet.PacketType() != kind {
			continue
		}
		if viewer != "" && s.Viewer != viewer {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *Recorder) Count(kind Type) int {
	return len(r.OfType(kind, ""))
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
