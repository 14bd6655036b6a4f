package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/history"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/kafka"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/valkey"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// Cycle is the outcome of one poll cycle handed to every sink.
type Cycle struct {
	ID       string
	DeviceID string
	Started  time.Time

	// Readings holds only the sensors read successfully in this cycle.
	Readings []heating.Reading

	Stats vcontrold.Stats
}

// Sink receives every completed cycle. A failing sink is logged and never
// aborts the cycle or blocks the other sinks.
type Sink interface {
	Name() string
	Write(ctx context.Context, c Cycle) error
}

// HistorySink records readings in the local SQLite history and prunes
// rows past the retention period at most once an hour.
type HistorySink struct {
	repo      *history.Repository
	retention time.Duration

	mu        sync.Mutex
	lastPrune time.Time
}

// NewHistorySink creates the SQLite sink. retention 0 keeps everything.
func NewHistorySink(repo *history.Repository, retention time.Duration) *HistorySink {
	return &HistorySink{repo: repo, retention: retention}
}

// Name implements Sink.
func (s *HistorySink) Name() string { return "history" }

// Write implements Sink.
func (s *HistorySink) Write(ctx context.Context, c Cycle) error {
	if err := s.repo.Record(ctx, c.Readings); err != nil {
		return err
	}

	if s.retention <= 0 {
		return nil
	}
	s.mu.Lock()
	due := time.Since(s.lastPrune) >= time.Hour
	if due {
		s.lastPrune = time.Now()
	}
	s.mu.Unlock()

	if due {
		if _, err := s.repo.Prune(ctx, s.retention); err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
	}
	return nil
}

// InfluxSink writes numeric readings and link counters to InfluxDB.
type InfluxSink struct {
	client *influxdb.Client
}

// NewInfluxSink creates the InfluxDB sink.
func NewInfluxSink(client *influxdb.Client) *InfluxSink {
	return &InfluxSink{client: client}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Write implements Sink. Writes are batched by the client; failures arrive
// through its error callback.
func (s *InfluxSink) Write(_ context.Context, c Cycle) error {
	if !s.client.IsConnected() {
		return influxdb.ErrNotConnected
	}
	for _, r := range c.Readings {
		if v, ok := r.Numeric(); ok {
			s.client.WriteReading(c.DeviceID, r.Sensor, r.Unit, v, r.Timestamp)
		}
	}
	s.client.WriteDaemonStats(c.DeviceID, influxdb.DaemonStats{
		CommandsTotal:   c.Stats.CommandsTotal,
		CommandsFailed:  c.Stats.CommandsFailed,
		ProtocolErrors:  c.Stats.ProtocolErrors,
		EmptyResponses:  c.Stats.EmptyResponses,
		ResyncProbes:    c.Stats.ResyncProbes,
		Connects:        c.Stats.Connects,
		ConnectFailures: c.Stats.ConnectFailures,
		Connected:       c.Stats.Connected,
	})
	return nil
}

// ValkeySink stores the latest value of every sensor in Valkey.
type ValkeySink struct {
	pub *valkey.Publisher
}

// NewValkeySink creates the Valkey sink.
func NewValkeySink(pub *valkey.Publisher) *ValkeySink {
	return &ValkeySink{pub: pub}
}

// Name implements Sink.
func (s *ValkeySink) Name() string { return "valkey" }

// Write implements Sink.
func (s *ValkeySink) Write(ctx context.Context, c Cycle) error {
	msgs := make([]valkey.ReadingMessage, 0, len(c.Readings))
	for _, r := range c.Readings {
		msgs = append(msgs, valkey.ReadingMessage{
			Device:    c.DeviceID,
			Sensor:    r.Sensor,
			Value:     r.Value,
			Raw:       r.Raw,
			Unit:      r.Unit,
			Timestamp: r.Timestamp,
		})
	}
	if err := s.pub.PublishReadings(ctx, msgs); err != nil {
		return err
	}

	status := HealthHealthy
	if !c.Stats.Connected {
		status = HealthDegraded
	}
	return s.pub.PublishHealth(ctx, valkey.HealthMessage{
		Device:    c.DeviceID,
		Status:    string(status),
		Connected: c.Stats.Connected,
		Timestamp: time.Now().UTC(),
	})
}

// KafkaSink produces one event per reading.
type KafkaSink struct {
	producer *kafka.Producer
}

// NewKafkaSink creates the Kafka sink.
func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Write implements Sink.
func (s *KafkaSink) Write(ctx context.Context, c Cycle) error {
	events := make([]kafka.ReadingEvent, 0, len(c.Readings))
	for _, r := range c.Readings {
		events = append(events, kafka.ReadingEvent{
			Device:    c.DeviceID,
			Sensor:    r.Sensor,
			Command:   r.Command,
			Value:     r.Value,
			Raw:       r.Raw,
			Unit:      r.Unit,
			CycleID:   c.ID,
			Timestamp: r.Timestamp,
		})
	}
	return s.producer.Produce(ctx, events)
}
