package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"liveclass/internal/api"
	"liveclass/internal/attention"
	"liveclass/internal/config"
	"liveclass/internal/history"
	"liveclass/internal/room"
	"liveclass/internal/signal"
	"liveclass/internal/websocket"
)

// Application coordinates all system components. Initialization follows
// dependency order: History -> Room manager -> Analyzer -> Relay ->
// Handler -> API -> HTTP.
type Application struct {
	config     *config.Config
	store      *history.Store
	manager    *room.Manager
	analyzer   *attention.Analyzer
	relay      *signal.Relay
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication builds the component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var store *history.Store
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(cfg.History.Path, cfg.History.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		log.Printf("Attention event log enabled at %s", cfg.History.Path)
	}

	codes := room.NewCodeGenerator(cfg.Room.CodeLength, cfg.Room.MaxCodeAttempts)
	manager := room.NewManager(codes)
	analyzer := attention.NewAnalyzer()
	relay := signal.NewRelay(manager)

	wsHandler := websocket.NewHandler(manager, analyzer, relay, store, cfg.WebSocket)

	// A nil *history.Store must not be wrapped into a non-nil interface.
	var checker api.HealthChecker
	if store != nil {
		checker = store
	}
	apiServer := api.NewServer(manager, checker)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/ws/teacher", wsHandler.HandleTeacher)
	mux.HandleFunc("/ws/student/", wsHandler.HandleStudent)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		manager:    manager,
		analyzer:   analyzer,
		relay:      relay,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving and verifies the listener came up.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting liveclass on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("liveclass started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down liveclass")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Printf("History store shutdown error: %v", err)
		}
	}

	log.Printf("liveclass shutdown complete")
	return nil
}

// Addr returns the server address for external connections.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
