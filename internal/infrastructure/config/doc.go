// Package config loads the bridge's YAML configuration.
//
// Load starts from the built-in defaults, overlays the file, then applies VCONTROLD_*
// environment variables and validates the result. Credentials for the
// broker, InfluxDB and Valkey are meant to come from the environment:
//
//	VCONTROLD_MQTT_PASSWORD=... VCONTROLD_INFLUXDB_TOKEN=... vcontrold-bridge -config /etc/vcontrold-bridge.yaml
package config
