// Package mqtt provides the bridge's MQTT client.
//
// It wraps github.com/eclipse/paho.mqtt.golang with:
//   - connection management with auto-reconnect
//   - a retained online/offline status topic backed by Last Will
//   - subscription tracking restored after reconnect
//   - panic recovery in message handlers
//   - topic builders for state, command, ack, health and discovery topics
//
// # Topic Hierarchy
//
//	vcontrold/bridge/status                    online/offline (retained)
//	vcontrold/{device}/state/{object}          readings (retained)
//	vcontrold/{device}/command/{path}          inbound commands
//	vcontrold/{device}/ack                     command acknowledgements
//	vcontrold/{device}/health                  bridge health (retained)
//	homeassistant/{component}/{device}/{object}/config  discovery (retained)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
