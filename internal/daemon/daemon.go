// Package daemon runs vcontrold as a supervised child of the bridge.
//
// When daemon.managed is enabled the bridge starts vcontrold in the
// foreground, waits for its TCP port and restarts it when it dies. An
// external daemon needs none of this.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
	"github.com/nerrad567/vcontrold-bridge/internal/process"
)

const (
	defaultReadyTimeout = 30 * time.Second
	readyPollInterval   = 100 * time.Millisecond
	dialTimeout         = 500 * time.Millisecond
)

// ErrNotReady is returned when the daemon never opened its port.
var ErrNotReady = errors.New("vcontrold not ready")

// Config describes the managed vcontrold.
type Config struct {
	Binary    string
	XMLFile   string
	Device    string
	Port      int
	ExtraArgs []string

	RestartOnFailure bool
	RestartDelay     time.Duration
	MaxRestartDelay  time.Duration
	MaxRestarts      int
	ProbeInterval    time.Duration

	// ReadyTimeout bounds the wait for the TCP port after a start.
	ReadyTimeout time.Duration
}

// ConfigFrom converts the YAML daemon section.
func ConfigFrom(c config.DaemonConfig) Config {
	m := c.Managed
	return Config{
		Binary:           m.Binary,
		XMLFile:          m.XMLFile,
		Device:           m.Device,
		Port:             c.Port,
		ExtraArgs:        m.ExtraArgs,
		RestartOnFailure: m.RestartOnFailure,
		RestartDelay:     time.Duration(m.RestartDelay) * time.Second,
		MaxRestartDelay:  time.Duration(m.MaxRestartDelay) * time.Second,
		MaxRestarts:      m.MaxRestartAttempts,
		ProbeInterval:    time.Duration(m.HealthCheckInterval) * time.Second,
	}
}

// Validate checks the fields needed to build a command line.
func (c Config) Validate() error {
	if c.Binary == "" {
		return errors.New("binary is required")
	}
	if c.XMLFile == "" {
		return errors.New("xml file is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// Args builds the vcontrold command line. -n keeps it in the foreground
// so the supervisor owns the process.
func (c Config) Args() []string {
	args := []string{"-n", "-x", c.XMLFile, "-p", strconv.Itoa(c.Port)}
	if c.Device != "" {
		args = append(args, "-d", c.Device)
	}
	return append(args, c.ExtraArgs...)
}

func (c Config) addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Port))
}

// Manager owns the vcontrold child process.
type Manager struct {
	cfg    Config
	sup    *process.Supervisor
	logger process.Logger
}

// NewManager validates cfg. Nothing runs until Start.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("managed vcontrold: %w", err)
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}

	m := &Manager{cfg: cfg}
	m.sup = process.New(process.Config{
		Name:             "vcontrold",
		Binary:           cfg.Binary,
		Args:             cfg.Args(),
		RestartOnFailure: cfg.RestartOnFailure,
		RestartDelay:     cfg.RestartDelay,
		MaxRestartDelay:  cfg.MaxRestartDelay,
		MaxRestarts:      cfg.MaxRestarts,
		Probe:            m.probe,
		ProbeInterval:    cfg.ProbeInterval,
	})
	return m, nil
}

// SetLogger sets the logger for the manager and its supervisor.
func (m *Manager) SetLogger(logger process.Logger) {
	m.logger = logger
	m.sup.SetLogger(logger)
}

// Start launches vcontrold and blocks until its port accepts connections.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.sup.Start(ctx); err != nil {
		return fmt.Errorf("starting vcontrold: %w", err)
	}
	if err := m.waitForReady(ctx); err != nil {
		m.sup.Stop()
		return err
	}
	if m.logger != nil {
		m.logger.Info("vcontrold ready", "address", m.cfg.addr(), "pid", m.sup.PID())
	}
	return nil
}

func (m *Manager) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(m.cfg.ReadyTimeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if !m.sup.IsRunning() && m.sup.State() != process.StateStarting {
			if err := m.sup.LastError(); err != nil {
				return fmt.Errorf("%w: process exited: %w", ErrNotReady, err)
			}
			return fmt.Errorf("%w: process exited", ErrNotReady)
		}
		if err := m.probe(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no listener on %s after %v", ErrNotReady, m.cfg.addr(), m.cfg.ReadyTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
}

// probe only checks that the port accepts connections. vcontrold serves
// one client at a time, so waiting for its prompt would block behind the
// bridge's own session.
func (m *Manager) probe(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.cfg.addr())
	if err != nil {
		return err
	}
	return conn.Close()
}

// Stop terminates vcontrold.
func (m *Manager) Stop() {
	m.sup.Stop()
}

// IsRunning reports whether the child is up.
func (m *Manager) IsRunning() bool {
	return m.sup.IsRunning()
}

// Stats returns supervisor statistics.
func (m *Manager) Stats() process.Stats {
	return m.sup.Stats()
}
