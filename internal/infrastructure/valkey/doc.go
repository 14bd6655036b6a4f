// Package valkey keeps the latest heating readings in Valkey (or Redis).
//
// Each reading is stored as JSON under
//
//	<key_prefix>:<device_id>:readings:<sensor>
//
// with an optional TTL, so dashboards and scripts can read current values
// without talking to the daemon. When publish_changes is set every reading
// is also published on <key_prefix>:<device_id>:changes. Health status is
// kept under <key_prefix>:<device_id>:health.
package valkey
