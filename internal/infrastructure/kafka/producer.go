package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
)

// ErrDisabled indicates the producer is disabled in config.
var ErrDisabled = errors.New("kafka: disabled in configuration")

// ErrClosed is returned by Produce after Close.
var ErrClosed = errors.New("kafka: producer closed")

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReadingEvent is the JSON value of each message.
type ReadingEvent struct {
	Device    string    `json:"device"`
	Sensor    string    `json:"sensor"`
	Command   string    `json:"command"`
	Value     any       `json:"value"`
	Raw       string    `json:"raw,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	CycleID   string    `json:"cycle_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the message key for the event.
func (e ReadingEvent) Key() string {
	return e.Device + "/" + e.Sensor
}

// Producer writes reading events synchronously.
type Producer struct {
	topic  string
	writer messageWriter
	closed bool
	mu     sync.RWMutex

	messagesSent  int64
	messagesError int64
	lastSendTime  time.Time
	lastErr       error
}

// NewProducer builds a producer for cfg.Topic on cfg.Brokers. The writer
// dials lazily on first produce.
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}

	batchTimeout := time.Duration(cfg.BatchTimeout) * time.Millisecond
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Async:                  false,
		BatchSize:              100,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
	return newProducer(cfg.Topic, w), nil
}

func newProducer(topic string, w messageWriter) *Producer {
	return &Producer{topic: topic, writer: w}
}

// Topic returns the destination topic.
func (p *Producer) Topic() string { return p.topic }

// Produce sends the events in one batch and blocks until acknowledged.
func (p *Producer) Produce(ctx context.Context, events []ReadingEvent) error {
	if len(events) == 0 {
		return nil
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	w := p.writer
	p.mu.RUnlock()

	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshalling event %s: %w", ev.Key(), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Key()),
			Value: value,
			Time:  ev.Timestamp,
		})
	}

	err := w.WriteMessages(ctx, msgs...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.messagesError += int64(len(msgs))
		p.lastErr = err
		return fmt.Errorf("kafka produce failed: %w", err)
	}
	p.messagesSent += int64(len(msgs))
	p.lastSendTime = time.Now()
	p.lastErr = nil
	return nil
}

// Stats returns producer counters.
func (p *Producer) Stats() (sent, failed int64, lastSend time.Time, lastErr error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.messagesSent, p.messagesError, p.lastSendTime, p.lastErr
}

// Close flushes and closes the writer. Safe to call more than once.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	w := p.writer
	p.mu.Unlock()

	return w.Close()
}
