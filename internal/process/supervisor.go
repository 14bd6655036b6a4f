package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of the supervised process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateFailed   State = "failed"
)

const (
	defaultRestartDelay    = 5 * time.Second
	defaultMaxRestartDelay = 5 * time.Minute
	defaultStableAfter     = 2 * time.Minute
	defaultStopTimeout     = 10 * time.Second
	defaultProbeInterval   = 30 * time.Second
	defaultProbeFailures   = 3
	probeTimeout           = 5 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start on a live supervisor.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrUnhealthy marks a child that was killed after failed probes.
	ErrUnhealthy = errors.New("process unhealthy")
)

// Config describes the child process and how it is supervised.
type Config struct {
	Name   string
	Binary string
	Args   []string

	// Env is appended to the parent environment.
	Env []string
	Dir string

	RestartOnFailure bool

	// RestartDelay is the first backoff delay. It doubles after every
	// failed run up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableAfter resets the backoff when a run lasted at least this long.
	StableAfter time.Duration

	// MaxRestarts limits restarts. 0 means unlimited.
	MaxRestarts int

	// StopTimeout is the wait between SIGTERM and SIGKILL.
	StopTimeout time.Duration

	// Probe checks a running child. After ProbeFailures consecutive
	// failures the child is killed.
	Probe         func(ctx context.Context) error
	ProbeInterval time.Duration
	ProbeFailures int

	// OnStart is called after every successful spawn.
	OnStart func(pid int)

	// OnExit is called after an unexpected exit.
	OnExit func(err error)
}

func (c Config) withDefaults() Config {
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.MaxRestartDelay < c.RestartDelay {
		c.MaxRestartDelay = max(defaultMaxRestartDelay, c.RestartDelay)
	}
	if c.StableAfter <= 0 {
		c.StableAfter = defaultStableAfter
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.ProbeFailures <= 0 {
		c.ProbeFailures = defaultProbeFailures
	}
	return c
}

// Logger is the logging interface used by the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs one child process. Safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	state     State
	restarts  int
	lastError error
	startedAt time.Time
	stop      chan struct{}
	done      chan struct{}
}

// New creates a supervisor. Nothing runs until Start.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
		state:  StateStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start spawns the child and supervises it until Stop or ctx ends.
// Only the first spawn's error is returned; later failures are retried.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStarting, StateRunning, StateBackoff:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.cfg.Name)
	}
	s.state = StateStarting
	s.restarts = 0
	s.lastError = nil
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	s.mu.Unlock()

	cmd, err := s.spawn()
	if err != nil {
		s.setState(StateFailed, err)
		close(done)
		return err
	}

	go s.run(ctx, cmd, stop, done)
	return nil
}

// Stop terminates the child and waits for supervision to end.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Done is closed when supervision has ended.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Supervisor) spawn() (*exec.Cmd, error) {
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...) //nolint:gosec // binary comes from local config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Dir = s.cfg.Dir
	cmd.Stdout = newLineWriter(s.logger, s.cfg.Name, "stdout")
	cmd.Stderr = newLineWriter(s.logger, s.cfg.Name, "stderr")
	// Grandchildren holding the output pipes must not block Wait forever.
	cmd.WaitDelay = s.cfg.StopTimeout

	s.logger.Info("starting process", "name", s.cfg.Name, "binary", s.cfg.Binary, "args", s.cfg.Args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("process started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	if s.cfg.OnStart != nil {
		s.cfg.OnStart(cmd.Process.Pid)
	}
	return cmd, nil
}

// run supervises the child until stop, ctx cancellation, a disabled
// restart, or the restart limit.
func (s *Supervisor) run(ctx context.Context, cmd *exec.Cmd, stop, done chan struct{}) {
	defer close(done)

	delay := s.cfg.RestartDelay
	for {
		started := time.Now()
		err := s.wait(ctx, cmd, stop)

		if stopRequested(ctx, stop) {
			s.logger.Info("process stopped", "name", s.cfg.Name)
			s.setState(StateStopped, nil)
			return
		}
		if time.Since(started) >= s.cfg.StableAfter {
			delay = s.cfg.RestartDelay
		}

		for {
			s.exited(err)
			if !s.cfg.RestartOnFailure || !s.allowRestart() {
				return
			}

			s.setState(StateBackoff, err)
			s.logger.Info("restarting process", "name", s.cfg.Name, "delay", delay.String())
			select {
			case <-ctx.Done():
				s.setState(StateStopped, nil)
				return
			case <-stop:
				s.setState(StateStopped, nil)
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, s.cfg.MaxRestartDelay)

			if cmd, err = s.spawn(); err == nil {
				break
			}
		}
	}
}

// wait blocks until the child exits. Stop and cancellation terminate it;
// repeated probe failures kill it.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd, stop <-chan struct{}) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var probe <-chan time.Time
	if s.cfg.Probe != nil {
		ticker := time.NewTicker(s.cfg.ProbeInterval)
		defer ticker.Stop()
		probe = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return s.terminate(cmd, exited)
		case <-stop:
			return s.terminate(cmd, exited)
		case <-probe:
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := s.cfg.Probe(pctx)
			cancel()
			if err == nil {
				if failures > 0 {
					s.logger.Info("process probe recovered", "name", s.cfg.Name, "failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			s.logger.Warn("process probe failed", "name", s.cfg.Name, "error", err, "failures", failures)
			if failures < s.cfg.ProbeFailures {
				continue
			}
			s.logger.Error("process unresponsive, killing", "name", s.cfg.Name, "pid", cmd.Process.Pid)
			s.signal(cmd.Process.Pid, syscall.SIGKILL)
			<-exited
			return fmt.Errorf("%w: %d consecutive probe failures: %w", ErrUnhealthy, failures, err)
		}
	}
}

// terminate sends SIGTERM to the process group and SIGKILL after
// StopTimeout.
func (s *Supervisor) terminate(cmd *exec.Cmd, exited <-chan error) error {
	pid := cmd.Process.Pid
	s.logger.Info("stopping process", "name", s.cfg.Name, "pid", pid)
	s.signal(pid, syscall.SIGTERM)

	select {
	case err := <-exited:
		return err
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("process ignored SIGTERM, killing", "name", s.cfg.Name, "timeout", s.cfg.StopTimeout.String())
		s.signal(pid, syscall.SIGKILL)
		return <-exited
	}
}

func (s *Supervisor) signal(pid int, sig syscall.Signal) {
	// Negative pid targets the group created by Setpgid.
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("signalling process group failed", "name", s.cfg.Name, "signal", sig.String(), "error", err)
	}
}

func (s *Supervisor) exited(err error) {
	if err == nil {
		err = errors.New("exited with status 0")
	}
	s.logger.Warn("process exited unexpectedly", "name", s.cfg.Name, "error", err)
	s.setState(StateFailed, err)
	if s.cfg.OnExit != nil {
		s.cfg.OnExit(err)
	}
}

func (s *Supervisor) allowRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxRestarts > 0 && s.restarts >= s.cfg.MaxRestarts {
		s.logger.Error("restart limit reached", "name", s.cfg.Name, "restarts", s.restarts)
		return false
	}
	s.restarts++
	return true
}

func (s *Supervisor) setState(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if err != nil {
		s.lastError = err
	}
}

func stopRequested(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning reports whether the child is up.
func (s *Supervisor) IsRunning() bool {
	return s.State() == StateRunning
}

// LastError returns the cause of the last unexpected exit.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Restarts returns the number of restarts since Start.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// PID returns the pid of the running child, or 0.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning || s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Stats is a snapshot for status reporting.
type Stats struct {
	Name          string `json:"name"`
	State         State  `json:"state"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Restarts      int    `json:"restarts"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats returns the current statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Name: s.cfg.Name, State: s.state, Restarts: s.restarts}
	if s.state == StateRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}
