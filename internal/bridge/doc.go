// Package bridge mirrors a Viessmann heating controller, reached through
// vcontrold, onto MQTT and the configured data sinks.
//
// # Poll cycle
//
// Every poll interval the bridge samples each sensor of the configured
// heating type, then refreshes the climate and water heater entities.
// Reads within one cycle are shared, so a command feeding several entities
// costs one daemon round trip. A sensor that fails keeps its last good
// value; a cycle that reads nothing returns ErrCycleFailed.
//
// # Topics
//
//	vcontrold/bridge/status                  online/offline (LWT)
//	vcontrold/{id}/state/{sensor}            retained sensor state
//	vcontrold/{id}/state/climate             retained climate state
//	vcontrold/{id}/state/water_heater        retained water heater state
//	vcontrold/{id}/command/{path}            commands
//	vcontrold/{id}/ack                       command acknowledgements
//	vcontrold/{id}/health                    retained health
//	homeassistant/{component}/{id}/{object}/config
//
// {id} is the inventory id reported by the daemon, stored so the topics
// survive a daemon that is down when the bridge starts. States are only
// republished when they change.
//
// # Commands
//
//	climate/temperature       "21"
//	climate/preset            "eco" | "comfort" | "none"
//	climate/mode              "heat" | "off"
//	water_heater/temperature  "50"
//	water_heater/mode         "off" | "gas" | "heat_pump" | "on"
//	raw                       {"id":"..","command":"getTempA"}
//	                          {"command":"setBetriebArtM1","value":"WW"}
//
// Each command is answered with an AckMessage.
package bridge
