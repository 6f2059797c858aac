package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/david-collett/reclaimenergy/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsVersion is the only TLS version the controller broker accepts.
	tlsVersion = tls.VersionTLS12

	// clientIDPrefix prefixes generated client identifiers.
	clientIDPrefix = "reclaim-"
)

// buildClientOptions creates paho MQTT options for the controller broker.
//
// This configures:
//   - Broker URL (always ssl://, the broker requires mutual TLS)
//   - Client ID (generated when not configured)
//   - Clean session mode
//   - Ordered message delivery
//   - Auto-reconnect DISABLED: the session owns the retry loop
//
// Parameters:
//   - cfg: Broker section of the configuration
//   - tlsConfig: Output of LoadTLSConfig
//
// Returns:
//   - *pahomqtt.ClientOptions: Options ready for pahomqtt.NewClient
func buildClientOptions(cfg config.BrokerConfig, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(clientID(cfg.ClientID))

	// Clean session - the controller keeps no broker-side state for us
	opts.SetCleanSession(true)

	// Deliver messages in arrival order on a single goroutine
	opts.SetOrderMatters(true)

	// The session's fixed-delay loop is the only reconnect mechanism
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	connectTimeout := defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		connectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetWriteTimeout(defaultPublishTimeout)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}

// clientID returns the configured ID, or a random one. The broker drops
// the older of two connections sharing an ID.
func clientID(configured string) string {
	if configured != "" {
		return configured
	}
	return clientIDPrefix + uuid.NewString()
}
