package vcontrold

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default settings, applied by New for zero-valued Config fields.
const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 3002
	DefaultPrompt           = "vctrld>"
	DefaultInventoryCommand = "getInventory"

	defaultDialTimeout     = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultReadTimeout     = 1 * time.Second
	defaultSyncTimeout     = 500 * time.Millisecond
	defaultConnectAttempts = 3
	defaultConnectBackoff  = 1 * time.Second
	defaultCommandAttempts = 3
)

// Config holds daemon connection settings.
type Config struct {
	// Host is the daemon address. Default: 127.0.0.1.
	Host string

	// Port is the daemon TCP port. Default: 3002.
	Port int

	// Prompt is the frame delimiter the daemon prints after every reply.
	// Default: "vctrld>".
	Prompt string

	// InventoryCommand returns the device identifier. Default: getInventory.
	InventoryCommand string

	// DialTimeout bounds a single TCP dial. Default: 5s.
	DialTimeout time.Duration

	// WriteTimeout bounds a single line write. Default: 5s.
	WriteTimeout time.Duration

	// ReadTimeout bounds the wait for a command response. Default: 1s.
	ReadTimeout time.Duration

	// SyncTimeout bounds the stray-prompt read and the resync probe.
	// Default: 500ms.
	SyncTimeout time.Duration

	// ConnectAttempts is the number of dials per connect. Default: 3.
	ConnectAttempts int

	// ConnectBackoff is the pause between dials. Default: 1s.
	ConnectBackoff time.Duration

	// CommandAttempts is the number of exchanges per command. Default: 3.
	CommandAttempts int
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.InventoryCommand == "" {
		c.InventoryCommand = DefaultInventoryCommand
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = defaultSyncTimeout
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = defaultConnectAttempts
	}
	if c.ConnectBackoff == 0 {
		c.ConnectBackoff = defaultConnectBackoff
	}
	if c.CommandAttempts == 0 {
		c.CommandAttempts = defaultCommandAttempts
	}
	return c
}

// Stats holds operational statistics.
type Stats struct {
	CommandsTotal   uint64
	CommandsFailed  uint64
	ProtocolErrors  uint64 // ERR responses
	EmptyResponses  uint64
	ResyncProbes    uint64 // blank lines sent to realign framing
	Connects        uint64 // successful sessions opened
	ConnectFailures uint64 // failed dials
	LastActivity    time.Time
	Connected       bool
}

// Device is the client for one vcontrold daemon.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Commands are serialised; callers queue on an internal lock.
//
// Failure model:
//   - No failure is terminal. A failed call leaves the Device
//     disconnected and the next call reconnects.
//   - The inventory identifier, once fetched, is never fetched again.
type Device struct {
	cfg  Config
	conn *connection
	ch   *channel

	idMu sync.Mutex
	id   string

	log   *logHolder
	stats *counters
}

// New creates a Device. No connection is made until the first command.
func New(cfg Config) *Device {
	cfg = cfg.withDefaults()
	log := &logHolder{}
	stats := &counters{}
	conn := newConnection(cfg, log, stats)

	return &Device{
		cfg:   cfg,
		conn:  conn,
		ch:    newChannel(cfg, conn, log, stats),
		log:   log,
		stats: stats,
	}
}

// Read executes key and returns the response body.
//
// Parameters:
//   - ctx: bounds only the wait for the command lock
//   - key: daemon command name, e.g. "getTempA"
//
// Returns:
//   - string: the body with prompt and surrounding whitespace removed,
//     or "" on any failure
//   - error: ErrConnectionFailed, ErrFrameDesync, ErrProtocol,
//     ErrInvalidCommand or ErrClosed
func (d *Device) Read(ctx context.Context, key string) (string, error) {
	resp, err := d.ch.execute(ctx, ReadCommand(key))
	if err != nil {
		return "", err
	}
	return ParseString(resp.Body), nil
}

// ReadInt executes key and parses the leading integer of the body.
// Parse failures return a *DecodeError.
func (d *Device) ReadInt(ctx context.Context, key string) (int, error) {
	body, err := d.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return ParseInt(body)
}

// ReadFloat executes key and parses the leading number of the body,
// rounded to two decimals. Parse failures return a *DecodeError.
func (d *Device) ReadFloat(ctx context.Context, key string) (float64, error) {
	body, err := d.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return ParseFloat(body)
}

// Write executes "key value" and succeeds only when the daemon answers
// with an OK acknowledgement. Failures are logged and returned.
func (d *Device) Write(ctx context.Context, key, value string) error {
	resp, err := d.ch.execute(ctx, WriteCommand(key, value))
	if err != nil {
		d.log.warn("vcontrold write failed", "command", key, "value", value, "error", err)
		return err
	}
	if resp.Kind != ResponseOK {
		d.log.warn("vcontrold write not acknowledged",
			"command", key, "value", value, "response", resp.Body)
		return fmt.Errorf("%w: %s %s: %q", ErrWriteRejected, key, value, resp.Body)
	}
	return nil
}

// ID returns the daemon's inventory identifier: the first token of the
// inventory command's response. It is fetched on first success and cached
// for the lifetime of the Device, across reconnects.
func (d *Device) ID(ctx context.Context) (string, error) {
	d.idMu.Lock()
	defer d.idMu.Unlock()

	if d.id != "" {
		return d.id, nil
	}

	body, err := d.Read(ctx, d.cfg.InventoryCommand)
	if err != nil {
		return "", fmt.Errorf("fetch inventory: %w", err)
	}
	id := firstToken(body)
	if id == "" {
		return "", fmt.Errorf("fetch inventory: %w", ErrFrameDesync)
	}
	d.id = id
	d.log.info("vcontrold inventory", "id", id)
	return id, nil
}

// Addr returns the daemon address as host:port.
func (d *Device) Addr() string {
	return d.conn.addr
}

// SetLogger sets the logger for this device.
func (d *Device) SetLogger(logger Logger) {
	d.log.set(logger)
}

// IsConnected returns true while a session to the daemon is held.
func (d *Device) IsConnected() bool {
	return d.conn.connected.Load()
}

// Stats returns current operational statistics.
func (d *Device) Stats() Stats {
	var last time.Time
	if ts := d.stats.lastActivity.Load(); ts > 0 {
		last = time.Unix(ts, 0)
	}
	return Stats{
		CommandsTotal:   d.stats.commandsTotal.Load(),
		CommandsFailed:  d.stats.commandsFailed.Load(),
		ProtocolErrors:  d.stats.protocolErrors.Load(),
		EmptyResponses:  d.stats.emptyResponses.Load(),
		ResyncProbes:    d.stats.resyncProbes.Load(),
		Connects:        d.stats.connects.Load(),
		ConnectFailures: d.stats.connectFailures.Load(),
		LastActivity:    last,
		Connected:       d.IsConnected(),
	}
}

// HealthCheck opens a session if none is held. It does not send a command.
func (d *Device) HealthCheck(ctx context.Context) error {
	return d.ch.ensureConnected(ctx)
}

// Close releases the socket once any in-flight exchange finishes. A command
// stuck reconnecting to an unreachable daemon is aborted with ErrClosed.
// Safe to call multiple times.
func (d *Device) Close() error {
	if d.ch.closed.Load() {
		return nil
	}
	d.ch.shutdown()
	d.log.info("vcontrold device closed", "addr", d.conn.addr)
	return nil
}
