package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/david-collett/reclaimenergy/internal/infrastructure/config"
)

// messageBuffer is the number of inbound payloads queued per connection.
const messageBuffer = 64

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Dialer opens single-use connections to the controller broker.
//
// Unlike a long-lived client, a Dialer never reconnects on its own. Each Dial
// returns a fresh Conn, and the caller decides when to try again.
//
// Thread Safety:
//   - Dial is safe for concurrent use, although one caller is the norm.
type Dialer struct {
	cfg       config.BrokerConfig
	tlsConfig *tls.Config
	logger    Logger

	// newClient builds the paho client. Replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// NewDialer loads the certificate artifacts and returns a Dialer.
//
// Parameters:
//   - cfg: Broker configuration including certificate paths
//   - logger: Optional logger for handler panics (may be nil)
//
// Returns:
//   - *Dialer: Ready to dial
//   - error: ErrTLSConfig if the certificates cannot be loaded
func NewDialer(cfg config.BrokerConfig, logger Logger) (*Dialer, error) {
	tlsConfig, err := LoadTLSConfig(cfg.Certificates)
	if err != nil {
		return nil, err
	}
	return &Dialer{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		logger:    logger,
		newClient: pahomqtt.NewClient,
	}, nil
}

// Dial opens one connection to the broker.
//
// Dial blocks until the broker accepts the connection, the configured connect
// timeout expires, or ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - *Conn: Connected, with no subscriptions yet
//   - error: ErrConnectionFailed wrapping the cause
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	conn := newConn(d.logger)

	opts := buildClientOptions(d.cfg, d.tlsConfig)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		conn.fail(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	})

	client := d.newClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	conn.client = client
	return conn, nil
}

// Conn is one live broker connection.
//
// Inbound payloads on subscribed topics are delivered in arrival order on
// Messages. Done is closed when the connection is lost or closed, after
// which Err reports why. A Conn is never reused.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Conn struct {
	client   pahomqtt.Client
	messages chan []byte
	done     chan struct{}
	once     sync.Once

	errMu sync.RWMutex
	err   error

	logger Logger
}

func newConn(logger Logger) *Conn {
	return &Conn{
		messages: make(chan []byte, messageBuffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Messages returns the inbound payload channel. It is never closed; select on
// Done alongside it.
func (c *Conn) Messages() <-chan []byte {
	return c.messages
}

// Done returns a channel closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is live or
// after a clean Close.
func (c *Conn) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// fail records err and ends the connection. Only the first call has effect.
func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

// Close disconnects from the broker. Calling Close more than once is safe.
func (c *Conn) Close() {
	c.fail(nil)
	if c.client != nil {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
}

// IsConnected reports whether the connection is still live.
func (c *Conn) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return c.client != nil && c.client.IsConnectionOpen()
}

// HealthCheck verifies the connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Conn) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// handle queues an inbound message. paho calls it on a single goroutine
// because order matters is set, so queue order is arrival order.
//
// Nothing is dropped while the connection is live: with the queue full,
// handle blocks until the reader drains one message or the connection ends.
// paho reads nothing else meanwhile, acknowledgements for QoS 1 publishes
// included, so a reader that publishes before draining stalls those
// publishes until their timeout.
func (c *Conn) handle(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Error("MQTT handler panic recovered",
				"topic", msg.Topic(),
				"panic", r,
			)
		}
	}()

	payload := append([]byte(nil), msg.Payload()...)
	select {
	case c.messages <- payload:
	case <-c.done:
		if c.logger != nil {
			c.logger.Warn("MQTT message dropped after connection closed",
				"topic", msg.Topic(),
			)
		}
	}
}
