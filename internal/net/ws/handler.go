package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"mirage/server/internal/net/intake"
	"mirage/server/internal/net/proto"
	"mirage/server/internal/telemetry"
	"mirage/server/internal/world"
)

const (
	defaultReadLimit   = 64 << 10
	defaultIdleTimeout = 60 * time.Second

	metricRejected = "ws_client_messages_rejected_total"
	metricAccepted = "ws_client_messages_accepted_total"
)

// HandlerConfig wires the websocket endpoint.
type HandlerConfig struct {
	Hub         *Hub
	Observers   *world.Directory
	Intake      intake.Context
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	IdleTimeout time.Duration
	Upgrader    websocket.Upgrader
}

// Handler upgrades viewer connections. The viewer id and world come from the
// "id" and "world" query parameters; "mode" optionally sets the game mode.
type Handler struct {
	cfg HandlerConfig
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics{}
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Upgrader.CheckOrigin == nil {
		cfg.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	if cfg.Intake.Observers == nil {
		cfg.Intake.Observers = cfg.Observers
	}
	return &Handler{cfg: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	viewerID := strings.TrimSpace(query.Get("id"))
	worldName := strings.TrimSpace(query.Get("world"))
	if viewerID == "" || worldName == "" {
		http.Error(w, "id and world are required", http.StatusBadRequest)
		return
	}

	conn, err := h.cfg.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("[ws] upgrade for %s failed: %v", viewerID, err)
		return
	}

	// Subscribe before publishing the observer so the new session is never
	// visible to the engine while packets still route to an older connection.
	sub := h.cfg.Hub.Subscribe(viewerID, WrapConn(conn))
	if h.cfg.Observers != nil {
		h.cfg.Observers.Upsert(world.Observer{
			ID:      viewerID,
			World:   worldName,
			Alive:   true,
			Mode:    world.ParseGameMode(query.Get("mode")),
			Session: sub.Session(),
		})
	}
	h.logf("[ws] viewer %s joined %s", viewerID, worldName)
	defer func() {
		h.cfg.Hub.Unsubscribe(sub)
		h.logf("[ws] viewer %s left", viewerID)
	}()

	conn.SetReadLimit(defaultReadLimit)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logf("[ws] read from %s: %v", viewerID, err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		h.handleFrame(viewerID, data)
	}
}

func (h *Handler) handleFrame(viewerID string, data []byte) {
	msg, err := proto.DecodeClientMessage(data)
	if err != nil {
		h.cfg.Metrics.Add(metricRejected, 1)
		h.logf("[ws] bad frame from %s: %v", viewerID, err)
		return
	}
	ok, reason := intake.Apply(h.cfg.Intake, viewerID, msg)
	if !ok {
		h.cfg.Metrics.Add(metricRejected, 1)
		h.logf("[ws] rejected %s from %s: %s", msg.Type, viewerID, reason)
		return
	}
	h.cfg.Metrics.Add(metricAccepted, 1)
}

func (h *Handler) logf(format string, args ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Printf(format, args...)
	}
}
