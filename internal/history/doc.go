// Package history keeps a local SQLite record of heating readings.
//
// Every poll cycle is written in one transaction. The repository answers
// "latest value per sensor" for the API after a restart and serves short
// per-sensor histories. Old rows are pruned on a retention schedule. The
// daemon's inventory identifier is kept in device_info so it survives
// restarts when the daemon is unreachable.
//
// Schema comes from the embedded migrations (0001_readings, 0002_device_info).
package history
