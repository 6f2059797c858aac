package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/david-collett/reclaimenergy/internal/reclaim"
)

// Default poll cadences.
const (
	defaultFastInterval = 30 * time.Second
	defaultSlowInterval = 5 * time.Minute

	// recordTimeout bounds one history write from the observer.
	recordTimeout = 5 * time.Second
)

// ErrNotStarted is returned by SetValue before Start or after Stop.
var ErrNotStarted = errors.New("coordinator: not started")

// Client is the controller session the coordinator drives.
// *reclaim.Session satisfies it.
type Client interface {
	Connect(observer reclaim.Observer) error
	Disconnect()
	RequestUpdate(ctx context.Context) error
	SetValue(ctx context.Context, attr reclaim.Attribute, value any) error
	IsConnected() bool
}

// HistoryRecorder persists decoded states.
type HistoryRecorder interface {
	RecordState(ctx context.Context, deviceID string, state reclaim.DeviceState, at time.Time) error
}

// TelemetryWriter forwards decoded states to a time-series store already
// bound to the device.
type TelemetryWriter interface {
	WriteState(state reclaim.DeviceState, at time.Time) bool
}

// Logger interface for coordinator events.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the coordinator's collaborators and cadence.
type Config struct {
	// DeviceID tags history rows. Required.
	DeviceID string

	// Client is the controller session. Required.
	Client Client

	// History records every state. Optional.
	History HistoryRecorder

	// Telemetry receives every state. Optional.
	Telemetry TelemetryWriter

	// FastInterval is the poll cadence while the pump is running.
	// Default: 30 seconds.
	FastInterval time.Duration

	// SlowInterval is the poll cadence while the unit is idle.
	// Default: 5 minutes.
	SlowInterval time.Duration

	// Logger receives coordinator events. Optional.
	Logger Logger
}

// Coordinator keeps the latest merged view of the controller and polls it.
//
// It is the session's observer. Snapshots replace the view; deltas are
// applied over it. Each state is recorded to history and telemetry, then
// passed to the OnUpdate hooks. A poll loop requests a full snapshot on a
// fast cadence while the pump is running or drawing power and a slow
// cadence otherwise.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Hooks run on the session goroutine and must not call Stop.
type Coordinator struct {
	deviceID  string
	client    Client
	history   HistoryRecorder
	telemetry TelemetryWriter
	logger    Logger
	fast      time.Duration
	slow      time.Duration
	now       func() time.Time

	// mu guards the view and the hooks.
	mu         sync.RWMutex
	latest     reclaim.DeviceState
	hasLatest  bool
	lastUpdate time.Time
	interval   time.Duration
	hooks      []func(reclaim.DeviceState)

	// cadence carries interval changes to the poll loop.
	cadence chan time.Duration

	started  bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a coordinator. Call Start to connect and begin polling.
//
// Parameters:
//   - cfg: Collaborators and cadence
//
// Returns:
//   - *Coordinator: Ready to start
//   - error: If DeviceID or Client is missing, or the cadence is inverted
func New(cfg Config) (*Coordinator, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("coordinator: device id is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("coordinator: client is required")
	}

	fast := cfg.FastInterval
	if fast <= 0 {
		fast = defaultFastInterval
	}
	slow := cfg.SlowInterval
	if slow <= 0 {
		slow = defaultSlowInterval
	}
	if slow < fast {
		return nil, fmt.Errorf("coordinator: slow interval %s is shorter than fast interval %s", slow, fast)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Coordinator{
		deviceID:  cfg.DeviceID,
		client:    cfg.Client,
		history:   cfg.History,
		telemetry: cfg.Telemetry,
		logger:    logger,
		fast:      fast,
		slow:      slow,
		now:       time.Now,
		interval:  slow,
		cadence:   make(chan time.Duration, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start connects the session and begins polling.
// Call Stop to shut down. A stopped coordinator cannot be restarted.
//
// Parameters:
//   - ctx: Context for cancellation (polling stops when cancelled)
//
// Returns:
//   - error: If the session refuses to connect
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.client.Connect(c.observe); err != nil {
		return fmt.Errorf("connecting session: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pollLoop(ctx)

	c.logger.Info("coordinator started",
		"device_id", c.deviceID,
		"interval", c.Interval().String(),
	)
	return nil
}

// Stop halts polling and disconnects the session. No hooks run after Stop
// returns. Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.client.Disconnect()

		c.mu.Lock()
		c.started = false
		c.mu.Unlock()

		c.logger.Info("coordinator stopped", "device_id", c.deviceID)
	})
}

// Latest returns the merged view of the controller.
//
// Returns:
//   - reclaim.DeviceState: Latest snapshot with later deltas applied
//   - bool: false until the first state arrives
func (c *Coordinator) Latest() (reclaim.DeviceState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.hasLatest
}

// LastUpdate returns when the most recent state arrived.
func (c *Coordinator) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Interval returns the current poll cadence.
func (c *Coordinator) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// Connected reports whether the session currently holds a broker connection.
func (c *Coordinator) Connected() bool {
	return c.client.IsConnected()
}

// OnUpdate registers a hook called with every inbound state, in arrival
// order, after the view has been updated.
func (c *Coordinator) OnUpdate(fn func(reclaim.DeviceState)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// SetValue writes one attribute through the session.
// The acknowledgement arrives later as a delta.
//
// Returns:
//   - error: ErrNotStarted, or the session's codec/publish error
func (c *Coordinator) SetValue(ctx context.Context, attr reclaim.Attribute, value any) error {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	if err := c.client.SetValue(ctx, attr, value); err != nil {
		return err
	}
	c.logger.Info("attribute write sent", "attribute", string(attr), "value", value)
	return nil
}

// RequestUpdate asks the controller for a full snapshot now.
func (c *Coordinator) RequestUpdate(ctx context.Context) error {
	return c.client.RequestUpdate(ctx)
}

// observe is the session observer.
func (c *Coordinator) observe(state reclaim.DeviceState) {
	at := c.now()

	c.mu.Lock()
	if state.Kind() == reclaim.Snapshot {
		c.latest = state
	} else {
		c.latest = c.latest.Merge(state)
	}
	c.hasLatest = true
	c.lastUpdate = at
	next, changed := c.nextInterval()
	if changed {
		c.interval = next
	}
	hooks := append([]func(reclaim.DeviceState)(nil), c.hooks...)
	c.mu.Unlock()

	if changed {
		c.signalCadence(next)
	}

	c.record(state, at)

	for _, fn := range hooks {
		fn(state)
	}
}

// nextInterval picks the cadence for the current view. When neither pump
// nor power is available the cadence is left alone. Caller holds mu.
func (c *Coordinator) nextInterval() (time.Duration, bool) {
	pump, pumpErr := c.latest.Int(reclaim.AttrPump)
	power, powerErr := c.latest.Int(reclaim.AttrPower)
	if pumpErr != nil && powerErr != nil {
		return c.interval, false
	}

	next := c.slow
	if (pumpErr == nil && pump != 0) || (powerErr == nil && power > 0) {
		next = c.fast
	}
	return next, next != c.interval
}

// signalCadence replaces any pending cadence change with d.
func (c *Coordinator) signalCadence(d time.Duration) {
	select {
	case <-c.cadence:
	default:
	}
	select {
	case c.cadence <- d:
	default:
	}
}

// record writes the state to history and telemetry.
func (c *Coordinator) record(state reclaim.DeviceState, at time.Time) {
	if c.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := c.history.RecordState(ctx, c.deviceID, state, at)
		cancel()
		if err != nil {
			c.logger.Warn("failed to record state history",
				"kind", state.Kind().String(),
				"error", err,
			)
		}
	}

	if c.telemetry != nil {
		c.telemetry.WriteState(state, at)
	}
}

// pollLoop requests a snapshot on each tick.
func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case d := <-c.cadence:
			ticker.Reset(d)
			c.logger.Info("poll cadence changed", "interval", d.String())
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

func (c *Coordinator) poll(ctx context.Context) {
	if !c.client.IsConnected() {
		c.logger.Debug("skipping poll, session not connected")
		return
	}
	if err := c.client.RequestUpdate(ctx); err != nil {
		c.logger.Warn("poll request failed", "error", err)
	}
}
