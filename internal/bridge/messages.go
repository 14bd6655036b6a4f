package bridge

import (
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// StateMessage is the retained payload on a sensor state topic.
// Topic: {prefix}/{device_id}/state/{sensor}
type StateMessage struct {
	DeviceID string `json:"device_id"`
	Sensor   string `json:"sensor"`

	// Value is the decoded value: number, string or bool.
	Value any `json:"value"`

	// State is the value as text; binary sensors report ON or OFF.
	State string `json:"state"`

	Unit      string    `json:"unit,omitempty"`
	Raw       string    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStateMessage builds the state payload for a reading.
func NewStateMessage(deviceID string, r heating.Reading) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Sensor:    r.Sensor,
		Value:     r.Value,
		State:     r.Text(),
		Unit:      r.Unit,
		Raw:       r.Raw,
		Timestamp: r.Timestamp,
	}
}

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the daemon acknowledged the write.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDaemonUnreachable = "DAEMON_UNREACHABLE"
	ErrCodeWriteRejected     = "WRITE_REJECTED"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// AckMessage is published after every command.
// Topic: {prefix}/{device_id}/ack
type AckMessage struct {
	// ID correlates the ack with the command. It echoes the id sent in a
	// raw command, or is generated.
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Value     string    `json:"value,omitempty"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RawCommand is the payload of the raw command topic. An empty Value is a
// read; the response body is returned in the ack's value.
// Topic: {prefix}/{device_id}/command/raw
type RawCommand struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	Value   string `json:"value,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained health payload.
// Topic: {prefix}/{device_id}/health
type HealthMessage struct {
	DeviceID      string       `json:"device_id"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Daemon        DaemonHealth `json:"daemon"`
	Cycles        uint64       `json:"cycles"`
	LastCycle     *time.Time   `json:"last_cycle,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// DaemonHealth is the daemon link section of a health message.
type DaemonHealth struct {
	Address         string     `json:"address"`
	Connected       bool       `json:"connected"`
	CommandsTotal   uint64     `json:"commands_total"`
	CommandsFailed  uint64     `json:"commands_failed"`
	ProtocolErrors  uint64     `json:"protocol_errors"`
	EmptyResponses  uint64     `json:"empty_responses"`
	ResyncProbes    uint64     `json:"resync_probes"`
	Connects        uint64     `json:"connects"`
	ConnectFailures uint64     `json:"connect_failures"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
}

func newDaemonHealth(addr string, s vcontrold.Stats) DaemonHealth {
	h := DaemonHealth{
		Address:         addr,
		Connected:       s.Connected,
		CommandsTotal:   s.CommandsTotal,
		CommandsFailed:  s.CommandsFailed,
		ProtocolErrors:  s.ProtocolErrors,
		EmptyResponses:  s.EmptyResponses,
		ResyncProbes:    s.ResyncProbes,
		Connects:        s.Connects,
		ConnectFailures: s.ConnectFailures,
	}
	if !s.LastActivity.IsZero() {
		t := s.LastActivity.UTC()
		h.LastActivity = &t
	}
	return h
}
