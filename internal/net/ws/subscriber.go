package ws

import (
	"sync"
	"time"

	"mirage/server/internal/net/proto"
)

// Subscriber is the handle returned by Hub.Subscribe.
type Subscriber struct {
	inner *subscriber
}

// Viewer returns the viewer id the subscription belongs to.
func (s *Subscriber) Viewer() string {
	return s.inner.viewer
}

// Session returns the connection session assigned by Hub.Subscribe.
func (s *Subscriber) Session() uint64 {
	return s.inner.session
}

// Done is closed once the subscription has stopped writing.
func (s *Subscriber) Done() <-chan struct{} {
	return s.inner.done
}

type subscriber struct {
	hub     *Hub
	viewer  string
	session uint64
	conn    Conn
	out     chan []byte

	// spawned holds the network ids this connection has been sent a spawn
	// for. Packets about any other entity are withheld.
	mu      sync.Mutex
	spawned map[int64]struct{}

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(h *Hub, viewer string, session uint64, conn Conn) *Subscriber {
	return &Subscriber{inner: &subscriber{
		hub:     h,
		viewer:  viewer,
		session: session,
		conn:    conn,
		out:     make(chan []byte, h.cfg.QueueSize),
		spawned: make(map[int64]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}}
}

// deliver queues an encoded packet. Spawn and despawn frames keep the
// connection's entity set in step with what was actually queued.
func (s *subscriber) deliver(packet proto.Packet, data []byte) {
	select {
	case <-s.stop:
		return
	default:
	}
	networkID, lifecycle := entityOf(packet)

	s.mu.Lock()
	_, known := s.spawned[networkID]
	if !known && packet.PacketType() != proto.TypeSpawn {
		s.mu.Unlock()
		s.hub.cfg.Metrics.Add(metricFramesSkipped, 1)
		return
	}
	queued := s.enqueue(data)
	switch packet.PacketType() {
	case proto.TypeSpawn:
		if queued {
			s.spawned[networkID] = struct{}{}
		}
	case proto.TypeDespawn:
		delete(s.spawned, networkID)
	}
	s.mu.Unlock()

	if !queued && lifecycle {
		s.hub.cfg.Metrics.Add(metricOverflowKicks, 1)
		if s.hub.cfg.Logger != nil {
			s.hub.cfg.Logger.Printf("[ws] queue for %s overflowed on %s, disconnecting", s.viewer, packet.PacketType())
		}
		s.hub.Unsubscribe(&Subscriber{inner: s})
	}
}

func (s *subscriber) enqueue(data []byte) bool {
	select {
	case s.out <- data:
		s.hub.recordDepth(len(s.out))
		return true
	default:
		s.hub.drops.Add(1)
		s.hub.cfg.Metrics.Add(metricFramesDrop, 1)
		return false
	}
}

// entityOf returns the network id a packet refers to and whether the packet
// changes the client's entity set.
func entityOf(packet proto.Packet) (int64, bool) {
	switch p := packet.(type) {
	case proto.Spawn:
		return p.Actor.NetworkID, true
	case proto.Despawn:
		return p.NetworkID, true
	case proto.Teleport:
		return p.NetworkID, false
	case proto.Move:
		return p.NetworkID, false
	case proto.MetadataUpdate:
		return p.NetworkID, false
	case proto.PlayAnimation:
		return p.NetworkID, false
	default:
		return 0, false
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case data := <-s.out:
			if err := s.write(data); err != nil {
				s.hub.cfg.Metrics.Add(metricWriteFailure, 1)
				if s.hub.cfg.Logger != nil {
					s.hub.cfg.Logger.Printf("[ws] write to %s failed: %v", s.viewer, err)
				}
				s.hub.Unsubscribe(&Subscriber{inner: s})
				return
			}
			s.hub.cfg.Metrics.Add(metricFramesSent, 1)
		}
	}
}

func (s *subscriber) write(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.Write(data)
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
}
