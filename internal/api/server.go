package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/audit"
	"github.com/nerrad567/vcontrold-bridge/internal/bridge"
	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/history"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/vcontrold-bridge/internal/process"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeService is the part of the bridge the API reads and triggers.
// *bridge.Bridge satisfies it.
type BridgeService interface {
	DeviceID() string
	Snapshot() bridge.Snapshot
	Reading(sensor string) (heating.Reading, bool)
	Metrics() bridge.Metrics
	Health() bridge.HealthMessage
	PollNow(ctx context.Context) (bridge.Cycle, error)
}

// DaemonClient is the daemon surface used by the raw endpoints.
// *vcontrold.Device satisfies it.
type DaemonClient interface {
	Read(ctx context.Context, key string) (string, error)
	Write(ctx context.Context, key, value string) error
	Addr() string
	IsConnected() bool
	Stats() vcontrold.Stats
}

// HistoryStore reads stored readings. *history.Repository satisfies it.
type HistoryStore interface {
	History(ctx context.Context, sensor string, limit int, since time.Time) ([]history.Entry, error)
}

// CommandStore is the command log. *audit.SQLiteRepository satisfies it.
type CommandStore interface {
	Record(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// ProcessStatter reports on a supervised vcontrold. *daemon.Manager
// satisfies it.
type ProcessStatter interface {
	Stats() process.Stats
}

// MQTTStatter reports broker link counters. *mqtt.Client satisfies it.
type MQTTStatter interface {
	Stats() mqtt.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Bridge   BridgeService
	Daemon   DaemonClient
	History  HistoryStore   // optional
	Commands CommandStore   // optional
	Managed  ProcessStatter // optional
	MQTT     MQTTStatter    // optional
	DB       DBStatter      // optional
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    BridgeService
	daemon    DaemonClient
	history   HistoryStore
	commands  CommandStore
	managed   ProcessStatter
	mqtt      MQTTStatter
	db        DBStatter
	version   string
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Daemon == nil {
		return nil, fmt.Errorf("daemon client is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		daemon:    deps.Daemon,
		history:   deps.History,
		commands:  deps.Commands,
		managed:   deps.Managed,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. Binding
// happens before Start returns so a port conflict is reported to the caller.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.listener = ln

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
