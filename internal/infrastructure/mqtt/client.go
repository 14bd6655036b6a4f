package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
)

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler handles one inbound message. paho calls it from its own
// goroutine; a returned error is only logged and counted.
type MessageHandler func(topic string, payload []byte) error

// Stats are message counters since Connect.
type Stats struct {
	Connected       bool   `json:"connected"`
	Subscriptions   int    `json:"subscriptions"`
	Published       uint64 `json:"published"`
	PublishFailures uint64 `json:"publish_failures"`
	Received        uint64 `json:"received"`
	HandlerErrors   uint64 `json:"handler_errors"`
	HandlerPanics   uint64 `json:"handler_panics"`
	Reconnects      uint64 `json:"reconnects"`
}

type counters struct {
	published       atomic.Uint64
	publishFailures atomic.Uint64
	received        atomic.Uint64
	handlerErrors   atomic.Uint64
	handlerPanics   atomic.Uint64
	connects        atomic.Uint64
}

// Client is the bridge's broker connection. It publishes a retained
// online/offline status, restores subscriptions after every reconnect and
// is safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool
	stats     counters

	// mu guards subs and the callbacks below.
	mu           sync.RWMutex
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Connect dials the broker and waits for the first session. Auto-reconnect
// stays on afterwards; the status topic is republished on each connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix, cfg.DiscoveryPrefix),
		subs:   make(map[string]subscription),
	}

	opts := clientOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectedHandler() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lostHandler(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.log(); l != nil {
			l.Info("reconnecting to MQTT broker")
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on paho's goroutine and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) connectedHandler() {
	c.connected.Store(true)
	c.stats.connects.Add(1)

	c.mu.RLock()
	for _, sub := range c.subs {
		c.client.Subscribe(sub.filter, sub.qos, c.dispatch(sub.handler))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	c.publishStatus(stateOnline, "")
	if callback != nil {
		callback()
	}
}

func (c *Client) lostHandler(err error) {
	c.connected.Store(false)
	if l := c.log(); l != nil {
		l.Warn("MQTT connection lost", "error", err)
	}

	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// publishStatus sets the retained availability document.
func (c *Client) publishStatus(state, reason string) pahomqtt.Token {
	payload := statusPayload(state, c.cfg.Broker.ClientID, reason)
	return c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, payload)
}

// Close marks the bridge offline and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(stateOffline, reasonShutdown).WaitTimeout(ackTimeout)
	}
	c.client.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a session is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// Stats returns the message counters.
func (c *Client) Stats() Stats {
	st := Stats{
		Connected:       c.IsConnected(),
		Subscriptions:   c.SubscriptionCount(),
		Published:       c.stats.published.Load(),
		PublishFailures: c.stats.publishFailures.Load(),
		Received:        c.stats.received.Load(),
		HandlerErrors:   c.stats.handlerErrors.Load(),
		HandlerPanics:   c.stats.handlerPanics.Load(),
	}
	if n := c.stats.connects.Load(); n > 1 {
		st.Reconnects = n - 1
	}
	return st
}

// Topics returns the topic builder.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetOnConnect registers a callback for the first connect and every
// reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for a lost connection.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}
