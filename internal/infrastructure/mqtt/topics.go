package mqtt

import "fmt"

// Default topic roots.
const (
	DefaultTopicPrefix     = "vcontrold"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Topics builds the bridge's MQTT topic names. Using these helpers keeps
// publishers and subscribers in agreement.
//
//	topics := mqtt.NewTopics("vcontrold", "homeassistant")
//	topics.State("20CB", "outside_temperature")
//	// "vcontrold/20CB/state/outside_temperature"
type Topics struct {
	Prefix    string
	Discovery string
}

// NewTopics returns a Topics with defaults applied for an empty prefix.
// An empty discovery prefix is kept, which disables discovery.
func NewTopics(prefix, discovery string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix, Discovery: discovery}
}

// Status is the bridge online/offline topic (retained, also the LWT).
//
// Example: vcontrold/bridge/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/bridge/status", t.Prefix)
}

// State is the retained state topic for one object of a device.
//
// Example: vcontrold/20CB/state/outside_temperature
func (t Topics) State(deviceID, object string) string {
	return fmt.Sprintf("%s/%s/state/%s", t.Prefix, deviceID, object)
}

// Command is the topic a command for path is received on.
//
// Example: vcontrold/20CB/command/climate/temperature
func (t Topics) Command(deviceID, path string) string {
	return fmt.Sprintf("%s/%s/command/%s", t.Prefix, deviceID, path)
}

// CommandWildcard subscribes to every command for a device.
//
// Example: vcontrold/20CB/command/#
func (t Topics) CommandWildcard(deviceID string) string {
	return fmt.Sprintf("%s/%s/command/#", t.Prefix, deviceID)
}

// Ack is where command acknowledgements are published.
//
// Example: vcontrold/20CB/ack
func (t Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/%s/ack", t.Prefix, deviceID)
}

// Health is the retained health topic for a device.
//
// Example: vcontrold/20CB/health
func (t Topics) Health(deviceID string) string {
	return fmt.Sprintf("%s/%s/health", t.Prefix, deviceID)
}

// DiscoveryConfig is the Home Assistant discovery topic for one entity.
// It returns "" when discovery is disabled.
//
// Example: homeassistant/sensor/20CB/outside_temperature/config
func (t Topics) DiscoveryConfig(component, deviceID, object string) string {
	if t.Discovery == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s/%s/config", t.Discovery, component, deviceID, object)
}
