// Package ws delivers actor packets to connected viewers over websockets and
// feeds their position reports back into the observer directory.
package ws

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"

	"mirage/server/internal/net/proto"
	"mirage/server/internal/telemetry"
	"mirage/server/internal/world"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second

	metricFramesSent    = "ws_frames_sent_total"
	metricFramesDrop    = "ws_frames_dropped_total"
	metricFramesSkipped = "ws_frames_unspawned_total"
	metricWriteFailure  = "ws_write_failures_total"
	metricSubscribers   = "ws_subscribers"
	metricOverflowKicks = "ws_overflow_disconnects_total"
)

// Conn is the write side of a viewer connection.
type Conn interface {
	Write(data []byte) error
	SetWriteDeadline(time.Time) error
	Close() error
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c websocketConn) Write(data []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c websocketConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c websocketConn) Close() error {
	return c.conn.Close()
}

// WrapConn adapts a gorilla connection to Conn using binary frames.
func WrapConn(conn *websocket.Conn) Conn {
	return websocketConn{conn: conn}
}

type HubConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	Observers    *world.Directory
	Clock        func() time.Time
}

// QueueStats summarises the outbound queues of every subscriber.
type QueueStats struct {
	Subscribers       int     `json:"subscribers"`
	Depth             int     `json:"depth"`
	MaxDepth          int     `json:"maxDepth"`
	Drops             uint64  `json:"drops"`
	DropRatePerSecond float64 `json:"dropRatePerSecond"`
}

// Hub fans packets out to subscribers. It implements proto.Transport; every
// send is non-blocking. A full queue drops movement frames, but a spawn or
// despawn that does not fit disconnects the subscriber so the client never
// keeps entity state the engine no longer tracks.
type Hub struct {
	proto.Sender

	cfg         HubConfig
	mu          deadlock.RWMutex
	subscribers map[string]*subscriber
	started     time.Time
	drops       atomic.Uint64
	maxDepth    atomic.Int64
	sessions    atomic.Uint64
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	h := &Hub{
		cfg:         cfg,
		subscribers: make(map[string]*subscriber),
		started:     cfg.Clock(),
	}
	h.Sender = h.send
	return h
}

var _ proto.Transport = (*Hub)(nil)

// Subscribe attaches conn for viewerID, replacing and closing any previous
// connection of the same viewer. The returned subscriber carries a fresh
// session number that callers store on the viewer's world.Observer.
func (h *Hub) Subscribe(viewerID string, conn Conn) *Subscriber {
	sub := newSubscriber(h, viewerID, h.sessions.Add(1), conn)
	h.mu.Lock()
	previous := h.subscribers[viewerID]
	h.subscribers[viewerID] = sub.inner
	count := len(h.subscribers)
	h.mu.Unlock()
	if previous != nil {
		previous.close()
	}
	h.cfg.Metrics.Store(metricSubscribers, uint64(count))
	go sub.inner.run()
	return sub
}

// Unsubscribe detaches viewerID if sub is still its current connection and
// removes the viewer from the observer directory.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	current, ok := h.subscribers[sub.inner.viewer]
	removed := ok && current == sub.inner
	if removed {
		delete(h.subscribers, sub.inner.viewer)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	sub.inner.close()
	if removed {
		h.cfg.Metrics.Store(metricSubscribers, uint64(count))
		if h.cfg.Observers != nil {
			h.cfg.Observers.Remove(sub.inner.viewer)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
		if h.cfg.Observers != nil {
			h.cfg.Observers.Remove(sub.viewer)
		}
	}
	h.cfg.Metrics.Store(metricSubscribers, 0)
}

func (h *Hub) send(viewer string, packet proto.Packet) {
	h.mu.RLock()
	sub := h.subscribers[viewer]
	h.mu.RUnlock()
	if sub == nil {
		return
	}
	data, err := proto.Encode(packet)
	if err != nil {
		if h.cfg.Logger != nil {
			h.cfg.Logger.Printf("[ws] encode %s for %s: %v", packet.PacketType(), viewer, err)
		}
		return
	}
	sub.deliver(packet, data)
}

// Stats reports queue depth and drop counters.
func (h *Hub) Stats() QueueStats {
	h.mu.RLock()
	stats := QueueStats{Subscribers: len(h.subscribers)}
	for _, sub := range h.subscribers {
		stats.Depth += len(sub.out)
	}
	h.mu.RUnlock()
	stats.MaxDepth = int(h.maxDepth.Load())
	stats.Drops = h.drops.Load()
	if elapsed := h.cfg.Clock().Sub(h.started).Seconds(); elapsed > 0 {
		stats.DropRatePerSecond = float64(stats.Drops) / elapsed
	}
	return stats
}

// Connected reports whether viewerID has a live subscription.
func (h *Hub) Connected(viewerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subscribers[viewerID]
	return ok
}

func (h *Hub) recordDepth(depth int) {
	for {
		current := h.maxDepth.Load()
		if int64(depth) <= current || h.maxDepth.CompareAndSwap(current, int64(depth)) {
			return
		}
	}
}
