// Package api provides the HTTP REST API and WebSocket server for fleetcore.
//
// It exposes provisioning workflows, the device registry, the state ledger,
// command dispatch, and real-time event streaming to operator tooling.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ironvale/fleetcore/internal/audit"
	"github.com/ironvale/fleetcore/internal/command"
	"github.com/ironvale/fleetcore/internal/device"
	"github.com/ironvale/fleetcore/internal/events"
	"github.com/ironvale/fleetcore/internal/infrastructure/config"
	"github.com/ironvale/fleetcore/internal/infrastructure/logging"
	"github.com/ironvale/fleetcore/internal/provisioning"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Store      *device.Store
	Ledger     device.StateLedger
	Workflow   *provisioning.Workflow
	Dispatcher *command.Dispatcher
	AuditRepo  audit.Repository
	Events     *events.Hub
	Version    string
}

// Server is the HTTP API server for fleetcore.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub
// that relays internal events to connected clients. The server is created
// with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	store      *device.Store
	ledger     device.StateLedger
	workflow   *provisioning.Workflow
	dispatcher *command.Dispatcher
	auditRepo  audit.Repository
	events     *events.Hub
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. Dispatcher and
// AuditRepo are optional; the corresponding endpoints return errors when
// they are absent.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("state ledger is required")
	}
	if deps.Workflow == nil {
		return nil, fmt.Errorf("provisioning workflow is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:        deps.Config,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		store:      deps.Store,
		ledger:     deps.Ledger,
		workflow:   deps.Workflow,
		dispatcher: deps.Dispatcher,
		auditRepo:  deps.AuditRepo,
		events:     deps.Events,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, builds the router, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewWSHub(s.events, s.logger)
	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stop the WebSocket hub and its event relay.
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
