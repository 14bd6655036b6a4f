package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// DefaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const DefaultHealthInterval = 30 * time.Second

// HealthReporter publishes the bridge's health to MQTT at regular
// intervals. Nothing is published until the device id is known.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	qos       byte
	device    DaemonStatus
	identity  func() string
	topics    mqtt.Topics
	cycles    func() (uint64, *time.Time)

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DaemonStatus provides the daemon link state.
type DaemonStatus interface {
	Addr() string
	IsConnected() bool
	Stats() vcontrold.Stats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	// Publisher may be nil; the reporter then only builds messages.
	Publisher HealthPublisher
	QoS       byte

	Device DaemonStatus

	// Identity returns the device id, "" while unknown.
	Identity func() string

	Topics mqtt.Topics

	// Cycles returns the poll cycle count and the start of the last cycle.
	Cycles func() (uint64, *time.Time)
}

// NewHealthReporter creates a health reporter. Call Start to begin
// reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	identity := cfg.Identity
	if identity == nil {
		identity = func() string { return "" }
	}
	cycles := cfg.Cycles
	if cycles == nil {
		cycles = func() (uint64, *time.Time) { return 0, nil }
	}

	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		qos:       cfg.QoS,
		device:    cfg.Device,
		identity:  identity,
		topics:    cfg.Topics,
		cycles:    cycles,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Message builds the current health message without publishing it.
func (h *HealthReporter) Message() HealthMessage {
	status, reason := h.determineStatus()
	return h.buildMessage(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.identity() == "" {
		return HealthStarting, "device id not yet known"
	}
	if h.device == nil || !h.device.IsConnected() {
		if n, _ := h.cycles(); n == 0 {
			return HealthStarting, "no poll cycle yet"
		}
		return HealthDegraded, "vcontrold disconnected"
	}
	if h.publisher != nil && !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	cycles, last := h.cycles()
	msg := HealthMessage{
		DeviceID:      h.identity(),
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Cycles:        cycles,
		LastCycle:     last,
		Timestamp:     time.Now().UTC(),
	}
	if h.device != nil {
		msg.Daemon = newDaemonHealth(h.device.Addr(), h.device.Stats())
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	deviceID := h.identity()
	if h.publisher == nil || deviceID == "" {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topics.Health(deviceID), payload, h.qos, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
