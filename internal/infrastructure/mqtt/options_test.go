package mqtt

import (
	"crypto/tls"
	"strings"
	"testing"
	"time"

	"github.com/david-collett/reclaimenergy/internal/infrastructure/config"
)

func TestBuildClientOptions(t *testing.T) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	cfg := config.BrokerConfig{
		Host:           "broker.example.com",
		Port:           8883,
		ClientID:       "reclaim-fixed",
		ConnectTimeout: 3,
	}

	opts := buildClientOptions(cfg, tlsConfig)

	if len(opts.Servers) != 1 {
		t.Fatalf("len(Servers) = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "ssl://broker.example.com:8883" {
		t.Errorf("Servers[0] = %q, want %q", got, "ssl://broker.example.com:8883")
	}
	if opts.ClientID != "reclaim-fixed" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "reclaim-fixed")
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.Order {
		t.Error("Order = false, want ordered delivery")
	}
	if opts.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, want 3s", opts.ConnectTimeout)
	}
	if opts.TLSConfig != tlsConfig {
		t.Error("TLSConfig not applied")
	}
}

func TestBuildClientOptions_Defaults(t *testing.T) {
	opts := buildClientOptions(config.BrokerConfig{Host: "localhost", Port: 8883}, nil)

	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", opts.ConnectTimeout, defaultConnectTimeout)
	}
	if !strings.HasPrefix(opts.ClientID, clientIDPrefix) {
		t.Errorf("ClientID = %q, want prefix %q", opts.ClientID, clientIDPrefix)
	}
}

func TestClientID(t *testing.T) {
	if got := clientID("configured"); got != "configured" {
		t.Errorf("clientID(configured) = %q", got)
	}

	a, b := clientID(""), clientID("")
	if a == b {
		t.Errorf("generated client IDs collide: %q", a)
	}
	if !strings.HasPrefix(a, clientIDPrefix) {
		t.Errorf("clientID() = %q, want prefix %q", a, clientIDPrefix)
	}
}
