package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/vcontrold-bridge/internal/audit"
	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/history"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// Bridge operation constants.
const (
	// DefaultPollInterval is used when Options.PollInterval is zero.
	DefaultPollInterval = 60 * time.Second

	// commandTimeout bounds one MQTT command including the state refresh.
	commandTimeout = 30 * time.Second

	// sinkTimeout bounds each sink write.
	sinkTimeout = 10 * time.Second

	// Object names for the entity state topics.
	objectClimate     = "climate"
	objectWaterHeater = "water_heater"
)

// Bridge polls a heating controller through vcontrold and mirrors it to MQTT.
// It handles:
//   - Poll cycles: sample every sensor, refresh climate and water heater
//   - Publishing changed state and Home Assistant discovery
//   - Commands received on MQTT, acknowledged on the ack topic
//   - Fan-out of each cycle to the configured sinks
//
// Thread Safety: All methods are safe for concurrent use. Poll cycles and
// commands share the daemon, whose client serialises them.
type Bridge struct {
	device      Device
	mqtt        MQTTClient
	topics      mqtt.Topics
	inventory   InventoryStore
	commandLog  CommandLog
	sinks       []Sink
	health      *HealthReporter
	heatingType heating.HeatingType
	name        string
	override    string
	interval    time.Duration
	qos         byte

	sensors     []heating.Sensor
	climate     *heating.Climate
	waterHeater *heating.WaterHeater

	// Identity, resolved on the first cycle that can reach the daemon
	// or the inventory store.
	deviceID   string
	identified bool
	idMu       sync.RWMutex

	// Latest good readings, kept across failed reads.
	latest   map[string]heating.Reading
	latestMu sync.RWMutex

	// State cache for change detection, keyed by object name.
	stateCache   map[string]string
	stateCacheMu sync.Mutex

	// cycleMu serialises poll cycles (loop, PollNow and API triggers).
	cycleMu sync.Mutex

	metrics   Metrics
	metricsMu sync.RWMutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the structured logger the bridge writes to.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Device is the daemon client surface the bridge needs.
// *vcontrold.Device satisfies it.
type Device interface {
	heating.Controller
	ID(ctx context.Context) (string, error)
	Addr() string
	IsConnected() bool
	Stats() vcontrold.Stats
}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// InventoryStore persists the daemon inventory id so the bridge keeps its
// topics while the daemon is unreachable at startup.
// *history.Repository satisfies it.
type InventoryStore interface {
	DeviceInfo(ctx context.Context, key string) (string, error)
	SetDeviceInfo(ctx context.Context, key, value string) error
}

// CommandLog records writes received over MQTT.
type CommandLog interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Device is the daemon client. Required.
	Device Device

	// MQTT is optional. Without it the bridge only polls and feeds sinks.
	MQTT MQTTClient

	// Topics builds MQTT topic names.
	Topics mqtt.Topics

	// QoS for state, discovery and ack messages.
	QoS byte

	HeatingType heating.HeatingType

	// Name is the device name shown in Home Assistant.
	Name string

	// DeviceID overrides the inventory id reported by the daemon.
	DeviceID string

	PollInterval   time.Duration
	HealthInterval time.Duration

	// Version is reported in health messages and discovery.
	Version string

	// Inventory is optional.
	Inventory InventoryStore

	// CommandLog is optional.
	CommandLog CommandLog

	Sinks  []Sink
	Logger Logger
}

// Metrics are counters for the API metrics endpoint.
type Metrics struct {
	Cycles          uint64     `json:"cycles"`
	CycleFailures   uint64     `json:"cycle_failures"`
	ReadErrors      uint64     `json:"read_errors"`
	StatesPublished uint64     `json:"states_published"`
	Commands        uint64     `json:"commands"`
	CommandFailures uint64     `json:"command_failures"`
	SinkErrors      uint64     `json:"sink_errors"`
	LastCycle       *time.Time `json:"last_cycle,omitempty"`
	LastCycleID     string     `json:"last_cycle_id,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Snapshot is the bridge's current view of the heating system.
type Snapshot struct {
	DeviceID    string                    `json:"device_id"`
	HeatingType heating.HeatingType       `json:"heating_type"`
	Readings    []heating.Reading         `json:"readings"`
	Climate     *heating.ClimateState     `json:"climate,omitempty"`
	WaterHeater *heating.WaterHeaterState `json:"water_heater,omitempty"`
}

// New creates a bridge. Call Start to begin polling.
func New(opts Options) (*Bridge, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if opts.HeatingType == "" {
		opts.HeatingType = heating.TypeGeneric
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = mqtt.NewTopics("", opts.Topics.Discovery)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		device:      opts.Device,
		mqtt:        opts.MQTT,
		topics:      opts.Topics,
		inventory:   opts.Inventory,
		commandLog:  opts.CommandLog,
		sinks:       opts.Sinks,
		heatingType: opts.HeatingType,
		name:        opts.Name,
		override:    opts.DeviceID,
		interval:    opts.PollInterval,
		qos:         opts.QoS,
		sensors:     heating.SensorsFor(opts.HeatingType),
		climate:     heating.NewClimate(opts.Device),
		waterHeater: heating.NewWaterHeater(opts.Device),
		latest:      make(map[string]heating.Reading),
		stateCache:  make(map[string]string),
		done:        make(chan struct{}),
		ctx:         ctx,
		ctxCancel:   ctxCancel,
		logger:      opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		QoS:       opts.QoS,
		Device:    opts.Device,
		Identity:  b.DeviceID,
		Topics:    opts.Topics,
		Cycles:    b.cycleStats,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start runs the first cycle and then polls at the configured interval
// until ctx is cancelled or Stop is called. A failing first cycle is
// logged, not returned: the daemon may come up later.
func (b *Bridge) Start(ctx context.Context) error {
	select {
	case <-b.done:
		return ErrStopped
	default:
	}

	b.health.Start(ctx)

	b.wg.Add(1)
	go b.pollLoop(ctx)

	b.logInfo("bridge started",
		"heating_type", b.heatingType,
		"sensors", len(b.sensors),
		"poll_interval", b.interval.String())
	return nil
}

// Stop gracefully shuts down the bridge. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Abort in-flight cycles and commands.
		b.ctxCancel()

		b.wg.Wait()

		// Publishes a final stopping status.
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ctx, cancel := b.joinContext(ctx)
	defer cancel()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if _, err := b.runCycle(ctx); err != nil && ctx.Err() == nil {
			b.logWarn("poll cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollNow runs one cycle immediately and returns its outcome.
func (b *Bridge) PollNow(ctx context.Context) (Cycle, error) {
	select {
	case <-b.done:
		return Cycle{}, ErrStopped
	default:
	}

	ctx, cancel := b.joinContext(ctx)
	defer cancel()
	return b.runCycle(ctx)
}

// joinContext returns a context cancelled with either ctx or the bridge.
func (b *Bridge) joinContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// runCycle samples every sensor through one cycleReader, refreshes the
// climate and water heater, publishes what changed and feeds the sinks.
func (b *Bridge) runCycle(ctx context.Context) (Cycle, error) {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	started := time.Now().UTC()
	cycle := Cycle{ID: uuid.NewString(), Started: started}

	deviceID, err := b.resolveDeviceID(ctx)
	if err != nil {
		b.recordCycle(cycle, 0, err)
		return cycle, err
	}
	cycle.DeviceID = deviceID

	reader := newCycleReader(b.device)
	var readErrors uint64
	var firstErr error
	aborted := false

	for _, s := range b.sensors {
		r, err := heating.Sample(ctx, reader, s)
		if err != nil {
			readErrors++
			if firstErr == nil {
				firstErr = err
			}
			b.logDebug("sensor read failed", "sensor", s.Key, "error", err)
			if errors.Is(err, vcontrold.ErrConnectionFailed) || ctx.Err() != nil {
				aborted = true
				break
			}
			continue
		}
		cycle.Readings = append(cycle.Readings, r)
	}

	var climateOK, waterOK bool
	if !aborted {
		if _, err := b.climate.UpdateWith(ctx, reader); err != nil {
			b.logDebug("climate update failed", "error", err)
		} else {
			climateOK = true
		}
		if _, err := b.waterHeater.UpdateWith(ctx, reader); err != nil {
			b.logDebug("water heater update failed", "error", err)
		} else {
			waterOK = true
		}
	}

	cycle.Stats = b.device.Stats()

	if len(cycle.Readings) == 0 {
		err := ErrCycleFailed
		if firstErr != nil {
			err = fmt.Errorf("%w: %w", ErrCycleFailed, firstErr)
		}
		b.recordCycle(cycle, readErrors, err)
		return cycle, err
	}

	b.latestMu.Lock()
	for _, r := range cycle.Readings {
		b.latest[r.Sensor] = r
	}
	b.latestMu.Unlock()

	b.publishReadings(deviceID, cycle.Readings)
	if climateOK {
		b.publishClimate(deviceID)
	}
	if waterOK {
		b.publishWaterHeater(deviceID)
	}

	b.writeSinks(ctx, cycle)
	b.recordCycle(cycle, readErrors, nil)

	b.logDebug("poll cycle complete",
		"cycle_id", cycle.ID,
		"readings", len(cycle.Readings),
		"read_errors", readErrors,
		"daemon_reads", reader.fetches,
		"duration", time.Since(started).String())
	return cycle, nil
}

func (b *Bridge) writeSinks(ctx context.Context, cycle Cycle) {
	for _, sink := range b.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := sink.Write(sctx, cycle)
		cancel()
		if err != nil {
			b.metricsMu.Lock()
			b.metrics.SinkErrors++
			b.metricsMu.Unlock()
			b.logWarn("sink write failed", "sink", sink.Name(), "cycle_id", cycle.ID, "error", err)
		}
	}
}

func (b *Bridge) recordCycle(cycle Cycle, readErrors uint64, err error) {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()

	b.metrics.Cycles++
	b.metrics.ReadErrors += readErrors
	b.metrics.LastCycleID = cycle.ID
	t := cycle.Started
	b.metrics.LastCycle = &t
	if err != nil {
		b.metrics.CycleFailures++
		b.metrics.LastError = err.Error()
	} else {
		b.metrics.LastError = ""
	}
}

// cycleStats feeds the health reporter.
func (b *Bridge) cycleStats() (uint64, *time.Time) {
	b.metricsMu.RLock()
	defer b.metricsMu.RUnlock()
	return b.metrics.Cycles, b.metrics.LastCycle
}

// resolveDeviceID returns the inventory id, resolving it on first use:
// configured override, then the daemon, then the stored id of an earlier
// run. The first resolution subscribes to commands and publishes
// discovery.
func (b *Bridge) resolveDeviceID(ctx context.Context) (string, error) {
	b.idMu.RLock()
	id, ok := b.deviceID, b.identified
	b.idMu.RUnlock()
	if ok {
		return id, nil
	}

	id, source := b.override, "config"
	if id == "" {
		daemonID, err := b.device.ID(ctx)
		switch {
		case err == nil && daemonID != "":
			id, source = daemonID, "daemon"
			b.storeDeviceID(ctx, id)
		case b.inventory != nil:
			stored, serr := b.inventory.DeviceInfo(ctx, history.KeyInventoryID)
			if serr != nil || stored == "" {
				return "", noDeviceID(err)
			}
			id, source = stored, "history"
		default:
			return "", noDeviceID(err)
		}
	}

	b.idMu.Lock()
	b.deviceID = id
	b.identified = true
	b.idMu.Unlock()

	b.logInfo("device identified", "device_id", id, "source", source)
	b.onIdentified(id)
	return id, nil
}

func noDeviceID(cause error) error {
	if cause == nil {
		return ErrNoDeviceID
	}
	return fmt.Errorf("%w: %w", ErrNoDeviceID, cause)
}

func (b *Bridge) storeDeviceID(ctx context.Context, id string) {
	if b.inventory == nil {
		return
	}
	if err := b.inventory.SetDeviceInfo(ctx, history.KeyInventoryID, id); err != nil {
		b.logWarn("failed to store inventory id", "error", err)
	}
}

func (b *Bridge) onIdentified(id string) {
	if b.mqtt == nil {
		return
	}

	topic := b.topics.CommandWildcard(id)
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		b.logError("failed to subscribe to commands", "topic", topic, "error", err)
	} else {
		b.logInfo("subscribed to commands", "topic", topic)
	}

	b.publishDiscovery(id)

	if err := b.health.PublishNow(); err != nil {
		b.logDebug("failed to publish health", "error", err)
	}
}

// DeviceID returns the resolved inventory id, or "" before resolution.
func (b *Bridge) DeviceID() string {
	b.idMu.RLock()
	defer b.idMu.RUnlock()
	return b.deviceID
}

// Resync clears the change cache and republishes discovery and every
// known state. Wire it to the MQTT reconnect callback so a restarted
// broker gets its retained messages back.
func (b *Bridge) Resync() {
	id := b.DeviceID()
	if id == "" || b.mqtt == nil {
		return
	}

	b.ClearStateCache()
	b.publishDiscovery(id)
	b.publishReadings(id, b.Snapshot().Readings)
	if b.climate.HasState() {
		b.publishClimate(id)
	}
	if b.waterHeater.HasState() {
		b.publishWaterHeater(id)
	}
	if err := b.health.PublishNow(); err != nil {
		b.logDebug("failed to publish health", "error", err)
	}
	b.logInfo("state resynchronised", "device_id", id)
}

func (b *Bridge) publishReadings(deviceID string, readings []heating.Reading) {
	for _, r := range readings {
		if b.stateUnchanged(r.Sensor, r.Raw) {
			continue
		}
		b.publishState(deviceID, r.Sensor, NewStateMessage(deviceID, r))
	}
}

func (b *Bridge) publishClimate(deviceID string) {
	st := b.climate.State()
	key := st
	key.UpdatedAt = time.Time{}
	if b.stateUnchanged(objectClimate, fmt.Sprintf("%+v", key)) {
		return
	}
	b.publishState(deviceID, objectClimate, st)
}

func (b *Bridge) publishWaterHeater(deviceID string) {
	st := b.waterHeater.State()
	key := st
	key.UpdatedAt = time.Time{}
	if b.stateUnchanged(objectWaterHeater, fmt.Sprintf("%+v", key)) {
		return
	}
	b.publishState(deviceID, objectWaterHeater, st)
}

func (b *Bridge) publishState(deviceID, object string, v any) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal state", "object", object, "error", err)
		return
	}
	topic := b.topics.State(deviceID, object)
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.logWarn("failed to publish state", "topic", topic, "error", err)
		b.forgetState(object)
		return
	}

	b.metricsMu.Lock()
	b.metrics.StatesPublished++
	b.metricsMu.Unlock()
}

// stateUnchanged reports whether object already has fingerprint, and
// records it otherwise.
func (b *Bridge) stateUnchanged(object, fingerprint string) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if cached, ok := b.stateCache[object]; ok && cached == fingerprint {
		return true
	}
	b.stateCache[object] = fingerprint
	return false
}

// forgetState drops a cache entry so a failed publish is retried.
func (b *Bridge) forgetState(object string) {
	b.stateCacheMu.Lock()
	delete(b.stateCache, object)
	b.stateCacheMu.Unlock()
}

// ClearStateCache forces every state to be republished on the next cycle.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	b.stateCache = make(map[string]string)
	b.stateCacheMu.Unlock()
}

// Snapshot returns the latest good readings in catalog order, plus the
// climate and water heater state once known.
func (b *Bridge) Snapshot() Snapshot {
	snap := Snapshot{
		DeviceID:    b.DeviceID(),
		HeatingType: b.heatingType,
	}

	b.latestMu.RLock()
	for _, s := range b.sensors {
		if r, ok := b.latest[s.Key]; ok {
			snap.Readings = append(snap.Readings, r)
		}
	}
	b.latestMu.RUnlock()

	if b.climate.HasState() {
		st := b.climate.State()
		snap.Climate = &st
	}
	if b.waterHeater.HasState() {
		st := b.waterHeater.State()
		snap.WaterHeater = &st
	}
	return snap
}

// Reading returns the latest good reading of one sensor.
func (b *Bridge) Reading(sensor string) (heating.Reading, bool) {
	b.latestMu.RLock()
	defer b.latestMu.RUnlock()
	r, ok := b.latest[sensor]
	return r, ok
}

// Metrics returns a copy of the bridge counters.
func (b *Bridge) Metrics() Metrics {
	b.metricsMu.RLock()
	defer b.metricsMu.RUnlock()
	m := b.metrics
	if m.LastCycle != nil {
		t := *m.LastCycle
		m.LastCycle = &t
	}
	return m
}

// Health returns the status the health reporter would publish now.
func (b *Bridge) Health() HealthMessage {
	return b.health.Message()
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
