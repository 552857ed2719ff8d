// Package app assembles the engine, the viewer transport and the HTTP
// surface from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"mirage/server/internal/combat"
	"mirage/server/internal/config"
	servernet "mirage/server/internal/net"
	"mirage/server/internal/net/intake"
	"mirage/server/internal/net/ws"
	"mirage/server/internal/sim"
	"mirage/server/internal/telemetry"
	"mirage/server/internal/world"
	"mirage/server/logging"
	loggingSinks "mirage/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

// Server owns every long-lived component of a running process.
type Server struct {
	cfg       config.File
	logger    telemetry.Logger
	zap       *zap.Logger
	metrics   *logging.Metrics
	router    *logging.Router
	grid      *world.Grid
	observers *world.Directory
	hub       *ws.Hub
	engine    *sim.Engine
	handler   http.Handler
	closers   []io.Closer
}

// New builds a server without starting the tick loop or the listener.
func New(cfg config.File, zapLogger *zap.Logger) (*Server, error) {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		zap:       zapLogger,
		logger:    telemetry.WrapZap(zapLogger),
		metrics:   logging.NewMetrics(),
		grid:      world.NewGrid(),
		observers: world.NewDirectory(),
	}

	router, err := s.newRouter()
	if err != nil {
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	s.router = router

	floor := cfg.World
	s.grid.Fill(floor.Name,
		cube.Pos{-floor.Radius, floor.FloorY, -floor.Radius},
		cube.Pos{floor.Radius, floor.FloorY, floor.Radius},
		world.Full)

	s.hub = ws.NewHub(ws.HubConfig{
		QueueSize: cfg.HTTP.QueueSize,
		Logger:    s.logger,
		Metrics:   telemetry.WrapMetrics(s.metrics),
		Observers: s.observers,
	})

	engine, err := sim.New(cfg.Engine, sim.Deps{
		Logger:    s.logger,
		Metrics:   s.metrics,
		Publisher: router,
		Geometry:  s.grid,
		Observers: s.observers,
		Transport: s.hub,
		Damager: world.PlayerDamagerFunc(func(observerID string, amount float64, attackerID string) {
			s.logger.Printf("[world] %s hit %s for %.1f", attackerID, observerID, amount)
		}),
		Drops: combat.DefinitionDrops{},
		DropSink: combat.DropSinkFunc(func(worldName string, pos mgl64.Vec3, items []combat.ItemStack, killer string) {
			s.logger.Printf("[world] %d stacks dropped in %s at %.1f,%.1f,%.1f (killer=%q)", len(items), worldName, pos.X(), pos.Y(), pos.Z(), killer)
		}),
	})
	if err != nil {
		_ = router.Close(context.Background())
		return nil, err
	}
	s.engine = engine

	wsHandler := ws.NewHandler(ws.HandlerConfig{
		Hub:       s.hub,
		Observers: s.observers,
		Logger:    s.logger,
		Metrics:   telemetry.WrapMetrics(s.metrics),
		Intake: intake.Context{
			Engine:       engine,
			Observers:    s.observers,
			Reach:        cfg.HTTP.Reach,
			MaxDamage:    cfg.HTTP.MaxDamage,
			Backpressure: intake.IsBackpressure(sim.ErrBackpressure),
		},
	})
	s.handler = servernet.NewHTTPHandler(servernet.HTTPHandlerConfig{
		Engine:    engine,
		Hub:       s.hub,
		WS:        wsHandler,
		Router:    router,
		Logger:    s.logger,
		ClientDir: cfg.HTTP.ClientDir,
	})
	return s, nil
}

func (s *Server) newRouter() (*logging.Router, error) {
	routerCfg := s.cfg.Logging.RouterConfig(s.metrics)
	named := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, routerCfg.Console)},
		{Name: "zap", Sink: loggingSinks.NewZap(s.zap)},
	}
	if routerCfg.HasSink("json") && routerCfg.JSON.FilePath != "" {
		file, err := os.OpenFile(routerCfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		s.closers = append(s.closers, file)
		named = append(named, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, routerCfg.JSON.FlushInterval)})
	}
	return logging.NewRouter(routerCfg, logging.SystemClock{}, zap.NewStdLog(s.zap), named)
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Engine() *sim.Engine { return s.engine }

func (s *Server) Observers() *world.Directory { return s.observers }

// SpawnConfigured starts the engine and places every configured creature.
// It returns the number of actors spawned.
func (s *Server) SpawnConfigured() (int, error) {
	s.engine.Start()
	spawned := 0
	for i, spawn := range s.cfg.Spawns {
		def, ok := s.cfg.Definition(spawn.Definition)
		if !ok {
			return spawned, fmt.Errorf("spawn %d: %w: unknown definition %q", i, config.ErrInvalid, spawn.Definition)
		}
		origin := mgl64.Vec3{spawn.Position[0], spawn.Position[1], spawn.Position[2]}
		rng := world.NewDeterministicRNG(s.cfg.Engine.Seed, fmt.Sprintf("spawn-%d", i))
		for n := 0; n < spawn.Count; n++ {
			pos := origin
			if n > 0 {
				pos = world.RandomOffset(rng, origin, 1, 4)
			}
			if _, err := s.engine.Spawn(def, spawn.World, pos); err != nil {
				s.logger.Printf("spawn %s in %s failed: %v", def.Name, spawn.World, err)
				continue
			}
			spawned++
		}
	}
	return spawned, nil
}

// Close tears down in dependency order: viewers, engine, logging.
func (s *Server) Close(ctx context.Context) error {
	s.hub.Close()
	err := s.engine.Close()
	if cerr := s.router.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	for _, closer := range s.closers {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Run serves cfg until ctx is cancelled.
func Run(ctx context.Context, cfg config.File, zapLogger *zap.Logger) error {
	s, err := New(cfg, zapLogger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := s.Close(closeCtx); cerr != nil {
			s.logger.Printf("shutdown: %v", cerr)
		}
	}()

	spawned, err := s.SpawnConfigured()
	if err != nil {
		return err
	}
	s.logger.Printf("spawned %d creatures", spawned)

	stop := make(chan struct{})
	loop := sim.NewLoop(s.engine, sim.LoopHooks{})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(stop)
	}()
	defer func() {
		close(stop)
		<-loopDone
	}()

	srv := &http.Server{
		Addr:     cfg.HTTP.Addr,
		Handler:  s.handler,
		ErrorLog: zap.NewStdLog(s.zap),
	}
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Printf("server listening on %s", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
