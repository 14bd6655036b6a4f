package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// Subscribe registers handler for filter, which may use + and #. The
// subscription survives reconnects.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	switch {
	case filter == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.track(subscription{filter: filter, qos: qos, handler: handler})
	if err := wait(c.client.Subscribe(filter, qos, c.dispatch(handler)), ErrSubscribeFailed); err != nil {
		c.untrack(filter)
		return err
	}
	return nil
}

// Unsubscribe drops filter locally and at the broker.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.untrack(filter)
	return wait(c.client.Unsubscribe(filter), ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of tracked filters.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

func (c *Client) track(sub subscription) {
	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[string]subscription)
	}
	c.subs[sub.filter] = sub
	c.mu.Unlock()
}

func (c *Client) untrack(filter string) {
	c.mu.Lock()
	delete(c.subs, filter)
	c.mu.Unlock()
}

// dispatch adapts handler to paho. Errors and panics are logged and
// counted; neither reaches paho's goroutine.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.stats.received.Add(1)
		defer func() {
			if r := recover(); r != nil {
				c.stats.handlerPanics.Add(1)
				if l := c.log(); l != nil {
					l.Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.stats.handlerErrors.Add(1)
			if l := c.log(); l != nil {
				l.Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}

// wait blocks on token for up to ackTimeout and wraps failures in base.
func wait(token pahomqtt.Token, base error) error {
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: timeout after %v", base, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", base, err)
	}
	return nil
}
