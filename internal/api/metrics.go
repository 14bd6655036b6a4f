package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/bridge"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/vcontrold-bridge/internal/process"
)

// DBStatter exposes connection pool statistics. *sql.DB satisfies it.
type DBStatter interface {
	Stats() sql.DBStats
}

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	MQTT          *mqtt.Stats      `json:"mqtt,omitempty"`
	Bridge        bridge.Metrics   `json:"bridge"`
	Daemon        DaemonMetrics    `json:"daemon"`
	Managed       *process.Stats   `json:"managed_daemon,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DaemonMetrics contains the vcontrold link counters.
type DaemonMetrics struct {
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

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) daemonMetrics() DaemonMetrics {
	st := s.daemon.Stats()
	m := DaemonMetrics{
		Address:         s.daemon.Addr(),
		Connected:       s.daemon.IsConnected(),
		CommandsTotal:   st.CommandsTotal,
		CommandsFailed:  st.CommandsFailed,
		ProtocolErrors:  st.ProtocolErrors,
		EmptyResponses:  st.EmptyResponses,
		ResyncProbes:    st.ResyncProbes,
		Connects:        st.Connects,
		ConnectFailures: st.ConnectFailures,
	}
	if !st.LastActivity.IsZero() {
		t := st.LastActivity.UTC()
		m.LastActivity = &t
	}
	return m
}

// handleMetrics returns runtime, bridge and daemon metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Bridge: s.bridge.Metrics(),
		Daemon: s.daemonMetrics(),
	}

	if s.mqtt != nil {
		st := s.mqtt.Stats()
		metrics.MQTT = &st
	}

	if s.managed != nil {
		st := s.managed.Stats()
		metrics.Managed = &st
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
