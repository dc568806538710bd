// Package relay exposes the controller over HTTP. It serves status
// and audit queries, accepts oracle decryption callbacks, and streams
// audit events to WebSocket clients.
//
// WARNING: the relay performs no transport authentication. Run it
// behind an authenticating proxy or bind it to a trusted interface.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/i5heu/ouroboros-oracle/pkg/controller"
	"github.com/i5heu/ouroboros-oracle/pkg/events"
)

// DefaultPort is the port the relay tries first.
const DefaultPort = 8475

// Config configures a Relay.
type Config struct {
	Controller    *controller.Controller
	Ledger        *events.Ledger
	PreferredPort uint16
	Logger        *slog.Logger
}

// Relay is the HTTP surface of the controller.
type Relay struct {
	config Config
	server *http.Server
	mux    *http.ServeMux

	// actualPort stores the port we're actually listening on
	actualPort atomic.Uint32

	// hub manages WebSocket connections for event streaming
	hub *EventStreamHub

	// ledgerSub is the hub's ledger subscription id
	ledgerSub int

	doneCh chan struct{}
}

// New creates a new Relay. It must be started with Start() before it
// will serve requests.
func New(cfg Config) (*Relay, error) {
	if cfg.Controller == nil {
		return nil, errors.New("relay: controller is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("relay: ledger is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Relay{
		config: cfg,
		mux:    http.NewServeMux(),
		hub:    NewEventStreamHub(),
		doneCh: make(chan struct{}),
	}

	r.setupRoutes()

	return r, nil
}

// setupRoutes configures the HTTP routes for the relay.
func (r *Relay) setupRoutes() {
	r.mux.HandleFunc("/api/status", r.handleGetStatus)
	r.mux.HandleFunc("/api/batches/", r.handleGetBatch)
	r.mux.HandleFunc("/api/requests/", r.handleGetRequest)
	r.mux.HandleFunc("/api/events", r.handleGetEvents)
	r.mux.HandleFunc("/api/callback", r.handleCallback)

	// WebSocket for audit event streaming
	r.mux.HandleFunc("/ws/events", r.handleWebSocket)
}

// Start begins serving on an available port and wires the event
// stream to the ledger.
func (r *Relay) Start(_ context.Context) error {
	port, listener, err := r.findAvailablePort()
	if err != nil {
		return fmt.Errorf("relay: find port: %w", err)
	}

	r.actualPort.Store(uint32(port))

	r.server = &http.Server{
		Handler:           r.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.hub.Start()
	r.ledgerSub = r.config.Ledger.Subscribe(r.hub)

	go func() {
		r.config.Logger.Info("relay started",
			"address", r.Address())

		if err := r.server.Serve(listener); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			r.config.Logger.Error("relay server error", "error", err)
		}
		close(r.doneCh)
	}()

	return nil
}

// Stop gracefully shuts down the relay.
func (r *Relay) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}

	r.config.Ledger.Unsubscribe(r.ledgerSub)
	r.hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay: shutdown: %w", err)
	}

	<-r.doneCh
	return nil
}

// Address returns the address the relay is listening on, or the empty
// string if not started.
func (r *Relay) Address() string {
	port := r.actualPort.Load()
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// Port returns the port the relay is listening on, or 0 if not
// started.
func (r *Relay) Port() uint16 {
	return uint16(r.actualPort.Load())
}

// findAvailablePort tries the preferred port first, then lets the OS
// assign one.
func (r *Relay) findAvailablePort() (uint16, net.Listener, error) {
	preferredPort := r.config.PreferredPort
	if preferredPort == 0 {
		preferredPort = DefaultPort
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", preferredPort))
	if err == nil {
		return preferredPort, listener, nil
	}

	listener, err = net.Listen("tcp", ":0")
	if err != nil {
		return 0, nil, fmt.Errorf("listen on any port: %w", err)
	}

	addr := listener.Addr().(*net.TCPAddr)
	return uint16(addr.Port), listener, nil
}
