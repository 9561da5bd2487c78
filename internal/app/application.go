package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"notifyhub/internal/api"
	"notifyhub/internal/broker"
	"notifyhub/internal/config"
	"notifyhub/internal/database"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/identity"
	"notifyhub/internal/notify"
	"notifyhub/internal/registry"
	"notifyhub/internal/sweeper"
	"notifyhub/internal/websocket"
	pkgdatabase "notifyhub/pkg/database"
	"notifyhub/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	store      *database.Manager
	registry   *registry.Registry
	broker     interfaces.Broker
	bridge     *broker.Bridge
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Adapter
	sweeper    *sweeper.Sweeper
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication creates a new application instance with all components
// initialized in dependency order:
// Database → Registry → Broker → Bridge → Dispatcher → Notifier → Sweeper → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	store, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notification store: %w", err)
	}

	reg := registry.NewRegistry()

	// ARCHITECTURAL DISCOVERY: An unreachable broker downgrades the process to
	// local-only delivery instead of failing startup; a single process still
	// serves its own connections
	var b interfaces.Broker
	redisBroker, err := broker.NewRedisBroker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable at %s, running with in-process broker only: %v", cfg.Redis.Addr, err)
		b = broker.NewMemoryBroker()
	} else {
		b = redisBroker
	}

	bridge := broker.NewBridge(b)
	dispatcher := dispatch.NewDispatcher(reg, bridge)
	notifier := notify.NewAdapter(reg, bridge)
	sw := sweeper.NewSweeper(reg, cfg.Sweeper.Interval, cfg.Sweeper.MaxIdle)

	verifier := identity.NewHMACVerifier(cfg.Auth.Secret)

	// Instance id distinguishes processes behind one load balancer in logs
	// and health output
	instanceID := uuid.New().String()
	log.Printf("NotifyHub instance id: %s", instanceID)

	apiServer := api.NewServer(store, notifier, reg, bridge, instanceID)
	wsHandler := websocket.NewHandler(reg, verifier, dispatcher, notifier)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		registry:   reg,
		broker:     b,
		bridge:     bridge,
		dispatcher: dispatcher,
		notifier:   notifier,
		sweeper:    sw,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution
// Sweeper starts first as background maintenance, then the HTTP server
// accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting NotifyHub application on %s", app.httpServer.Addr)

	if err := app.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cleanup sweeper: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		_ = app.sweeper.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("NotifyHub application started successfully")
		return nil
	case <-ctx.Done():
		_ = app.sweeper.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Sweeper → Bridge → Broker → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down NotifyHub application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.sweeper.Stop(); err != nil {
		log.Printf("Sweeper shutdown error: %v", err)
	}

	// Close every live connection so the write goroutines unwind
	for _, session := range app.registry.All() {
		_ = session.Conn.Close()
		app.registry.Remove(session.ID)
	}

	if err := app.bridge.Close(); err != nil {
		log.Printf("Broker bridge shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("NotifyHub application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
