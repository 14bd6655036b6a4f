package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
)

const (
	dialTimeout    = 3 * time.Second
	commandTimeout = 2 * time.Second
)

// ErrDisabled indicates the cache is disabled in config.
var ErrDisabled = errors.New("valkey: disabled in configuration")

// joinKey joins key segments with colons, dropping empty segments and
// stray colons so "a::b" never appears.
func joinKey(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// ReadingMessage is the JSON stored for one sensor.
type ReadingMessage struct {
	Device    string    `json:"device"`
	Sensor    string    `json:"sensor"`
	Value     any       `json:"value"`
	Raw       string    `json:"raw,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthMessage is the JSON stored for bridge health.
type HealthMessage struct {
	Device    string    `json:"device"`
	Status    string    `json:"status"`
	Connected bool      `json:"connected"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher writes readings to Valkey.
type Publisher struct {
	cfg     config.ValkeyConfig
	client  *redis.Client
	running bool
	mu      sync.RWMutex
}

// NewPublisher creates a publisher. Nothing connects until Start.
func NewPublisher(cfg config.ValkeyConfig) *Publisher {
	return &Publisher{cfg: cfg}
}

// Start connects and pings the server.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		return ErrDisabled
	}

	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	client := redis.NewClient(&redis.Options{
		Addr:         p.cfg.Address,
		Password:     p.cfg.Password,
		DB:           p.cfg.Database,
		DialTimeout:  dialTimeout,
		ReadTimeout:  commandTimeout,
		WriteTimeout: commandTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("connecting to valkey at %s: %w", p.cfg.Address, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		client.Close()
		return nil
	}
	p.client = client
	p.running = true
	return nil
}

// Stop disconnects. Safe to call when not started.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	return client.Close()
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Address returns the server address as a redis URL.
func (p *Publisher) Address() string {
	return "redis://" + p.cfg.Address
}

// ReadingKey returns the key a sensor's latest value is stored under.
func (p *Publisher) ReadingKey(deviceID, sensor string) string {
	return joinKey(p.cfg.KeyPrefix, deviceID, "readings", sensor)
}

// PublishReadings stores each reading in one pipeline. A stopped publisher
// drops the readings silently.
func (p *Publisher) PublishReadings(ctx context.Context, msgs []ReadingMessage) error {
	client := p.activeClient()
	if client == nil || len(msgs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	pipe := client.Pipeline()
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshalling reading %s: %w", msg.Sensor, err)
		}
		pipe.Set(ctx, p.ReadingKey(msg.Device, msg.Sensor), data, p.ttl())
		if p.cfg.PublishChanges {
			pipe.Publish(ctx, joinKey(p.cfg.KeyPrefix, msg.Device, "changes"), data)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing readings: %w", err)
	}
	return nil
}

// PublishHealth stores the bridge health for a device.
func (p *Publisher) PublishHealth(ctx context.Context, msg HealthMessage) error {
	client := p.activeClient()
	if client == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling health status: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := client.Set(ctx, joinKey(p.cfg.KeyPrefix, msg.Device, "health"), data, p.ttl()).Err(); err != nil {
		return fmt.Errorf("storing health: %w", err)
	}
	return nil
}

// HealthCheck pings the server.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	client := p.activeClient()
	if client == nil {
		return fmt.Errorf("valkey: not running")
	}
	return client.Ping(ctx).Err()
}

func (p *Publisher) activeClient() *redis.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil
	}
	return p.client
}

func (p *Publisher) ttl() time.Duration {
	if p.cfg.TTL <= 0 {
		return 0
	}
	return time.Duration(p.cfg.TTL) * time.Second
}
