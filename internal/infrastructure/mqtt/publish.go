package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// validatePublish checks publish arguments before touching the network.
func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}

// Publish sends a message to topic.
//
// Retained messages are kept by the broker for new subscribers; use them
// for state, discovery and health topics, never for commands or acks.
//
// Example:
//
//	topic := client.Topics().State("20CB", "outside_temperature")
//	err := client.Publish(topic, []byte(`{"value":4.5}`), 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed); err != nil {
		c.stats.publishFailures.Add(1)
		return err
	}
	c.stats.published.Add(1)
	return nil
}
