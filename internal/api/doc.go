// Package api implements the HTTP REST API of the vcontrold bridge.
//
// This package provides:
//   - Read access to the latest readings and the SQLite history
//   - Raw daemon reads and writes for diagnostics
//   - The command log of every write sent to the controller
//   - A trigger for an immediate poll cycle
//   - Health and metrics endpoints for monitoring
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// All routes live under /api/v1:
//
//	GET  /health
//	GET  /metrics
//	GET  /device
//	GET  /readings
//	GET  /readings/{sensor}
//	GET  /readings/{sensor}/history?limit=50&since=2024-01-01T00:00:00Z
//	POST /raw/read   {"command":"getTempA"}
//	POST /raw/write  {"command":"setBetriebArtM1","value":"WW"}
//	GET  /commands?source=mqtt&status=error&limit=50&offset=0
//	POST /poll
//
// # Graceful Degradation
//
// History and the command log are optional; without them their endpoints
// answer 404. Daemon failures map to 502 so clients can tell them from
// their own mistakes.
package api
