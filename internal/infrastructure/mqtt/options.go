package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	keepAlive      = 60 * time.Second
	ackTimeout     = 5 * time.Second
	quiesceMillis  = 1000
	maxQoS         = 2
)

// Bridge availability states published retained on the status topic.
const (
	stateOnline  = "online"
	stateOffline = "offline"
)

// Offline reasons.
const (
	reasonShutdown = "graceful_shutdown"
	reasonConnLost = "unexpected_disconnect"
)

// clientOptions maps the broker config onto paho options. The last will
// marks the bridge offline when the TCP session dies without a DISCONNECT.
func clientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	b := cfg.Broker
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(b)).
		SetClientID(b.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(topics.Status(), statusPayload(stateOffline, b.ClientID, reasonConnLost), 1, true)

	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if b.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// statusMessage is the JSON document on the bridge status topic. Discovery
// configs read its status field as the availability value.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(state, clientID, reason string) string {
	data, _ := json.Marshal(statusMessage{
		Status:    state,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(data)
}
