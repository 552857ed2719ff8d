package net

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"mirage/server/internal/net/ws"
	"mirage/server/internal/sim"
	"mirage/server/internal/telemetry"
	"mirage/server/logging"
)

// EngineStats is the view of the simulation the diagnostics endpoint needs.
type EngineStats interface {
	Stats() sim.Stats
	Config() sim.Config
}

type HTTPHandlerConfig struct {
	Engine    EngineStats
	Hub       *ws.Hub
	WS        nethttp.Handler
	Router    *logging.Router
	Logger    telemetry.Logger
	ClientDir string
	Clock     func() time.Time
}

type diagnosticsPayload struct {
	Status     string               `json:"status"`
	ServerTime int64                `json:"serverTime"`
	TickRate   int                  `json:"tickRate"`
	Engine     *sim.Stats           `json:"engine,omitempty"`
	Telemetry  *telemetryPayload    `json:"telemetry,omitempty"`
	Logging    *logging.RouterStats `json:"logging,omitempty"`
}

type telemetryPayload struct {
	SubscriberQueues ws.QueueStats `json:"subscriberQueues"`
}

func NewHTTPHandler(cfg HTTPHandlerConfig) nethttp.Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		payload := diagnosticsPayload{
			Status:     "ok",
			ServerTime: clock().UnixMilli(),
		}
		if cfg.Engine != nil {
			stats := cfg.Engine.Stats()
			payload.Engine = &stats
			payload.TickRate = cfg.Engine.Config().TickRate
		}
		if cfg.Hub != nil {
			payload.Telemetry = &telemetryPayload{SubscriberQueues: cfg.Hub.Stats()}
		}
		if cfg.Router != nil {
			routed := cfg.Router.Stats()
			payload.Logging = &routed
		}

		data, err := json.Marshal(payload)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Printf("[http] encode diagnostics: %v", err)
			}
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.WS != nil {
		mux.Handle("/ws", cfg.WS)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
