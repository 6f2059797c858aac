package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/david-collett/reclaimenergy/internal/device"
	"github.com/david-collett/reclaimenergy/internal/infrastructure/config"
	"github.com/david-collett/reclaimenergy/internal/infrastructure/logging"
	"github.com/david-collett/reclaimenergy/internal/reclaim"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ChannelState is the WebSocket channel carrying every inbound controller
// state. Clients are subscribed to it on connect.
const ChannelState = "state"

// StateSource is the coordinator surface the API reads and writes through.
type StateSource interface {
	Latest() (reclaim.DeviceState, bool)
	LastUpdate() time.Time
	Interval() time.Duration
	Connected() bool
	SetValue(ctx context.Context, attr reclaim.Attribute, value any) error
	RequestUpdate(ctx context.Context) error
}

// HistorySource reads stored controller states.
type HistorySource interface {
	GetHistory(ctx context.Context, deviceID string, limit int) ([]device.StateHistoryEntry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	DeviceID string
	State    StateSource
	History  HistorySource // optional: history endpoints return 503 without it
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	deviceID string
	state    StateSource
	history  HistorySource
	version  string
	hub      *Hub

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub
// exists from New onward, so BroadcastState may be registered as a
// coordinator hook before the listener is up.
//
// Parameters:
//   - deps: Required dependencies (logger, state source, device ID)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state source is required")
	}
	if deps.DeviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		deviceID: deps.DeviceID,
		state:    deps.State,
		history:  deps.History,
		version:  deps.Version,
		hub:      NewHub(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Start binds the listener and serves HTTP in a background goroutine.
//
// Binding happens before Start returns, so a port already in use is
// reported here rather than logged later.
//
// Parameters:
//   - ctx: Parent context for the WebSocket hub
//
// Returns:
//   - error: If the address cannot be bound or the server is already started
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener on %s: %w", addr, err)
	}

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(hubCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.server = nil
	s.listener = nil
	s.cancel = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	// Hub first, so WebSocket connections do not hold Shutdown open.
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// BroadcastState sends one inbound controller state to WebSocket clients.
// It never blocks, so it is safe to register as a coordinator hook.
func (s *Server) BroadcastState(state reclaim.DeviceState) {
	s.hub.BroadcastState(s.stateView(state, time.Now()))
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}
