package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReading = "heating"
	MeasurementDaemon  = "vcontrold"
)

// DaemonStats is the subset of link counters recorded per poll cycle.
type DaemonStats struct {
	CommandsTotal   uint64
	CommandsFailed  uint64
	ProtocolErrors  uint64
	EmptyResponses  uint64
	ResyncProbes    uint64
	Connects        uint64
	ConnectFailures uint64
	Connected       bool
}

// WriteReading records one numeric heating reading.
//
// Tags are device_id, sensor and, when set, unit. The single field is value.
// A zero timestamp means now.
func (c *Client) WriteReading(deviceID, sensor, unit string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_id": deviceID,
		"sensor":    sensor,
	}
	if unit != "" {
		tags["unit"] = unit
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementReading,
		tags,
		map[string]interface{}{"value": value},
		timestampOrNow(ts),
	))
}

// WriteDaemonStats records the daemon link counters.
func (c *Client) WriteDaemonStats(deviceID string, s DaemonStats) {
	if !c.IsConnected() {
		return
	}

	// Counters fit comfortably in int64 for the lifetime of a process.
	// #nosec G115
	fields := map[string]interface{}{
		"commands_total":   int64(s.CommandsTotal),
		"commands_failed":  int64(s.CommandsFailed),
		"protocol_errors":  int64(s.ProtocolErrors),
		"empty_responses":  int64(s.EmptyResponses),
		"resync_probes":    int64(s.ResyncProbes),
		"connects":         int64(s.Connects),
		"connect_failures": int64(s.ConnectFailures),
		"connected":        s.Connected,
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDaemon,
		map[string]string{"device_id": deviceID},
		fields,
		time.Now(),
	))
}

// WritePoint writes a custom point with a specific timestamp.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestampOrNow(ts)))
}

func timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
