package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/david-collett/reclaimenergy/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// deviceTag carries the controller's device hex on every point.
	deviceTag = "device_id"
)

// Client writes controller state points for one device.
//
// The device tag is fixed at Connect and applied by the write API to every
// point, so callers only hand over states. Writes are batched and sent in
// the background; failures arrive through SetOnError.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	deviceID string

	mu      sync.RWMutex
	closed  bool
	onError func(err error)
}

// Connect pings the server and opens a batching write API for deviceID.
//
// Parameters:
//   - ctx: Context bounding the connectivity check
//   - cfg: InfluxDB section of the configuration
//   - deviceID: Device hex written as the device_id tag
//
// Returns:
//   - *Client: Ready for WriteState
//   - error: ErrDisabled, ErrDeviceRequired or ErrConnectionFailed
func Connect(ctx context.Context, cfg config.InfluxDBConfig, deviceID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if deviceID == "" {
		return nil, ErrDeviceRequired
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := cfg.FlushInterval
	if flushSeconds <= 0 {
		flushSeconds = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(time.Duration(flushSeconds) * time.Second / time.Millisecond)).
		AddDefaultTag(deviceTag, deviceID)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		deviceID: deviceID,
	}
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

// forwardErrors hands async write failures to the current callback.
// It exits when the write API is closed.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(fmt.Errorf("writing %s for %s: %w", StateMeasurement, c.deviceID, err))
		}
	}
}

// SetOnError sets the callback for failed background writes.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// DeviceID returns the device tag applied to every point.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// IsConnected reports whether the client is still open. Use HealthCheck
// for an active check.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// HealthCheck pings the server.
//
// Returns:
//   - error: ErrNotConnected after Close, otherwise nil if the server answers healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// Close flushes queued points and closes the client. Later calls are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Client.Close flushes and closes every write API it handed out.
	c.client.Close()
	return nil
}
