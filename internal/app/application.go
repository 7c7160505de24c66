package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/EdenLuski/back/internal/api"
	"github.com/EdenLuski/back/internal/config"
	"github.com/EdenLuski/back/internal/coordinator"
	"github.com/EdenLuski/back/internal/hub"
	"github.com/EdenLuski/back/internal/store"
	"github.com/EdenLuski/back/internal/websocket"
	"github.com/EdenLuski/back/pkg/types"
)

// Application wires every component and owns their lifecycles.
// Initialization order: store -> coordinator -> registry -> hub -> handlers
// -> HTTP server; shutdown runs in reverse.
type Application struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	coord      *coordinator.Coordinator
	registry   *websocket.Registry
	gateway    *hub.Hub
	httpServer *http.Server
}

// seedRooms is the demo set created at startup when absent.
func seedRooms() []*types.Room {
	blocks := []struct {
		id, name, solution string
	}{
		{"1", "Async case", "async function run() {\n  const data = await fetchData();\n  return data;\n}"},
		{"2", "Promises", "fetchData().then((data) => console.log(data));"},
		{"3", "Callbacks", "fetchData(function (data) {\n  console.log(data);\n});"},
		{"4", "Event Loop", "setTimeout(() => console.log('later'), 0);\nconsole.log('first');"},
	}

	rooms := make([]*types.Room, 0, len(blocks))
	for _, b := range blocks {
		room := types.NewRoom(b.id, b.name)
		room.Solution = b.solution
		rooms = append(rooms, room)
	}
	return rooms
}

// New builds the application from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	roomStore, err := store.Open(cfg.Database.Path, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open room store: %w", err)
	}

	// A previous process may have died with rooms still occupied; their
	// mentor and participant ids are gone for good, so reconcile before
	// anyone connects.
	if err := roomStore.ResetEphemeral(context.Background()); err != nil {
		_ = roomStore.Close()
		return nil, fmt.Errorf("failed to reset stale membership: %w", err)
	}

	if err := roomStore.Seed(context.Background(), seedRooms()); err != nil {
		_ = roomStore.Close()
		return nil, fmt.Errorf("failed to seed demo rooms: %w", err)
	}

	coord := coordinator.New(roomStore, logger.Named("coordinator"))
	registry := websocket.NewRegistry(logger.Named("registry"))
	gateway := hub.New(registry, coord, logger.Named("hub"))

	wsHandler := websocket.NewHandler(registry, gateway, logger.Named("websocket"))
	apiServer := api.NewServer(roomStore, registry, logger.Named("api"))

	router := http.NewServeMux()
	router.Handle("/api/", apiServer)
	router.Handle("/health", apiServer)
	router.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		logger:     logger,
		store:      roomStore,
		coord:      coord,
		registry:   registry,
		gateway:    gateway,
		httpServer: httpServer,
	}, nil
}

// Start brings the gateway up and begins serving HTTP. It returns once the
// listener is up or startup failed.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting", zap.String("addr", a.httpServer.Addr))

	if err := a.gateway.Start(); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		_ = a.gateway.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		a.logger.Info("started")
		return nil
	case <-ctx.Done():
		_ = a.gateway.Stop()
		return ctx.Err()
	}
}

// Stop shuts everything down in reverse order of startup.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := a.gateway.Stop(); err != nil && err != hub.ErrHubNotRunning {
		a.logger.Warn("hub stop", zap.Error(err))
	}
	// The hub is already stopped, so these closes trigger no departure
	// cleanup; the next start reconciles membership instead.
	a.registry.CloseAll()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", zap.Error(err))
	}

	a.logger.Info("shutdown complete")
	return nil
}
