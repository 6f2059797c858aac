package reclaim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/david-collett/reclaimenergy/internal/infrastructure/mqtt"
)

// Session constants.
const (
	// defaultRetryDelay is the fixed pause between connection attempts.
	// There is no backoff and no jitter.
	defaultRetryDelay = 5 * time.Second

	// commandQoS is at-least-once delivery for subscriptions and commands.
	commandQoS byte = 1

	// maxLoggedPayload bounds the payload excerpt logged for dropped messages.
	maxLoggedPayload = 256
)

// Logger is the logging interface used by the session.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards everything.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Conn is one live transport connection as seen by the session.
// *mqtt.Conn satisfies it.
type Conn interface {
	Subscribe(ctx context.Context, topic string, qos byte) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Messages() <-chan []byte
	Done() <-chan struct{}
	Err() error
	Close()
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// MQTTDialer adapts an mqtt.Dialer for use by a Session.
func MQTTDialer(d *mqtt.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (Conn, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Observer receives every decoded state in wire-arrival order.
//
// It runs on the session goroutine and should return promptly. While it runs,
// inbound messages queue on the transport; once that queue is full the
// transport stops reading, and a QoS 1 publish made from inside the observer
// can then only end in a publish timeout. Observers must not call SetValue or
// RequestUpdate synchronously; start a goroutine instead. Calling Disconnect
// from the observer is allowed.
type Observer func(DeviceState)

// SessionState is the connection state of a Session.
type SessionState int

const (
	StateIdle         SessionState = iota // constructed or disconnected
	StateConnecting                       // dialling or waiting to retry
	StateConnected                        // subscribed and receiving
	StateShuttingDown                     // Disconnect in progress
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Identifier is the validated device identifier. Required.
	Identifier Identifier

	// Dialer opens transport connections. Required.
	Dialer Dialer

	// Logger receives session events. Optional.
	Logger Logger
}

// Session maintains the connection to one controller.
//
// A single goroutine owns the connection: it dials, subscribes to the status
// topic, requests a full snapshot, then forwards every inbound message to the
// observer until the transport fails. It then waits a fixed delay and starts
// over, forever, until Disconnect.
//
// RequestUpdate and SetValue run on the caller's goroutine. They read the
// current connection under a lock; a nil connection means disconnected. The
// handle is set exactly while State reports StateConnected, and both change
// under the same lock, so IsConnected and State never disagree.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	id         Identifier
	topics     mqtt.Topics
	dialer     Dialer
	logger     Logger
	retryDelay time.Duration

	// lifecycleMu serialises Connect and Disconnect. It is never held while
	// waiting for a loop to exit.
	lifecycleMu sync.Mutex
	loop        *loopRun

	// mu guards conn, state and current. current is the loop allowed to
	// change them; a loop that has been replaced leaves them alone.
	mu      sync.RWMutex
	conn    Conn
	state   SessionState
	current *loopRun
}

// loopRun is one run of the connection loop, from Connect until it exits.
type loopRun struct {
	cancel context.CancelFunc
	done   chan struct{}

	// observing is set while the observer runs on this loop's goroutine.
	observing atomic.Bool
}

// NewSession creates an idle Session. Topics are derived from the identifier
// once and never change.
//
// Returns:
//   - *Session: Idle session, call Connect to start it
//   - error: ErrInvalidIdentifier if the identifier is unset
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Identifier.IsZero() {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidIdentifier)
	}
	if opts.Dialer == nil {
		return nil, errors.New("reclaim: session requires a dialer")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Session{
		id:         opts.Identifier,
		topics:     opts.Identifier.Topics(),
		dialer:     opts.Dialer,
		logger:     logger,
		retryDelay: defaultRetryDelay,
		state:      StateIdle,
	}, nil
}

// Identifier returns the device identifier.
func (s *Session) Identifier() Identifier {
	return s.id
}

// Topics returns the status/command topic pair.
func (s *Session) Topics() mqtt.Topics {
	return s.topics
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether a connection is live.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// HealthCheck reports whether the session is connected.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if connected, error describing the state otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("reclaim health check: %w", ctx.Err())
	default:
	}

	if state := s.State(); state != StateConnected {
		return fmt.Errorf("%w: session %s", mqtt.ErrNotConnected, state)
	}
	return nil
}

// Connect starts the connection loop and returns immediately.
//
// The loop dials until it succeeds and redials after every failure. Each
// decoded inbound message is passed to observer.
//
// Returns:
//   - error: ErrSessionRunning if the loop is already running
func (s *Session) Connect(observer Observer) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.loop != nil {
		return ErrSessionRunning
	}
	if observer == nil {
		observer = func(DeviceState) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loopRun{cancel: cancel, done: make(chan struct{})}
	s.loop = l

	s.mu.Lock()
	s.current = l
	s.conn = nil
	s.state = StateConnecting
	s.mu.Unlock()

	go s.run(ctx, l, observer)
	return nil
}

// Disconnect stops the connection loop.
//
// The session reports StateShuttingDown and stops publishing at once. Disconnect
// then waits for the loop to exit: the transport is closed, the observer will
// not be called again and the session is idle. If the observer is running at
// that moment, which includes Disconnect being called from the observer
// itself, Disconnect returns without waiting and the loop finishes the same
// teardown as soon as the observer returns. Calling Disconnect on an idle
// session is a no-op.
func (s *Session) Disconnect() {
	s.lifecycleMu.Lock()
	l := s.loop
	s.loop = nil
	s.lifecycleMu.Unlock()

	if l == nil {
		return
	}

	l.cancel()

	s.mu.Lock()
	if s.current == l {
		s.conn = nil
		s.state = StateShuttingDown
	}
	s.mu.Unlock()

	if l.observing.Load() {
		s.logger.Debug("disconnect requested while observer running, not waiting",
			"device", s.id.String(),
		)
		return
	}
	<-l.done
}

// RequestUpdate asks the controller for its full register table.
//
// When disconnected nothing is published and nil is returned; callers poll
// periodically and tolerate missed requests.
//
// Returns:
//   - error: ErrPublishFailed if the publish failed
func (s *Session) RequestUpdate(ctx context.Context) error {
	return s.publish(ctx, NewReadRequest())
}

// SetValue encodes value for attr and writes it to the controller.
//
// Attribute and value checks happen before the connection is consulted, so
// a read-only attribute never reaches the wire.
//
// Returns:
//   - error: ErrUnknownAttribute, ErrReadOnlyAttribute, ErrEncodeFailed or
//     ErrPublishFailed; nil when disconnected
func (s *Session) SetValue(ctx context.Context, attr Attribute, value any) error {
	reg, err := Lookup(attr)
	if err != nil {
		return err
	}
	if !reg.Writable() {
		return fmt.Errorf("%w: %s", ErrReadOnlyAttribute, attr)
	}
	raw, err := reg.Encode(value)
	if err != nil {
		return err
	}

	return s.publish(ctx, NewWriteRequest(reg.Address, raw))
}

// publish sends msg on the command topic if connected.
func (s *Session) publish(ctx context.Context, msg Message) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		s.logger.Debug("controller not connected, command dropped",
			"message_id", msg.MessageID,
			"register", msg.Register,
		)
		return nil
	}

	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	if err := conn.Publish(ctx, s.topics.Command(), payload, commandQoS); err != nil {
		s.logger.Warn("controller command publish failed",
			"message_id", msg.MessageID,
			"register", msg.Register,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	s.logger.Debug("controller command published",
		"message_id", msg.MessageID,
		"register", msg.Register,
	)
	return nil
}

// =============================================================================
// Connection loop
// =============================================================================

// run is the connection loop. It exits only when ctx is cancelled.
func (s *Session) run(ctx context.Context, l *loopRun, observer Observer) {
	defer s.finish(l)

	for {
		err := s.session(ctx, l, observer)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("controller connection failed, retrying",
			"device", s.id.String(),
			"error", err,
			"retry_in", s.retryDelay,
		)

		timer := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// finish marks the session idle after l exits, unless a newer loop has
// already taken over.
func (s *Session) finish(l *loopRun) {
	s.mu.Lock()
	if s.current == l {
		s.current = nil
		s.conn = nil
		s.state = StateIdle
	}
	s.mu.Unlock()

	close(l.done)
	s.logger.Info("controller session stopped", "device", s.id.String())
}

// session runs one connection from dial to failure.
func (s *Session) session(ctx context.Context, l *loopRun, observer Observer) error {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}
	defer func() {
		s.clearConn(l, conn)
		conn.Close()
	}()

	if err := conn.Subscribe(ctx, s.topics.Status(), commandQoS); err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", ErrTransport, s.topics.Status(), err)
	}

	s.mu.Lock()
	live := ctx.Err() == nil && s.current == l && s.state == StateConnecting
	if live {
		s.conn = conn
		s.state = StateConnected
	}
	s.mu.Unlock()
	if !live {
		return fmt.Errorf("%w: session stopping", ErrTransport)
	}

	s.logger.Info("controller connected",
		"device", s.id.String(),
		"status_topic", s.topics.Status(),
	)

	// A fresh connection always starts from a full snapshot.
	if err := s.RequestUpdate(ctx); err != nil {
		s.logger.Warn("initial state request failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			cause := conn.Err()
			if cause == nil {
				cause = errors.New("connection closed")
			}
			return fmt.Errorf("%w: %w", ErrTransport, cause)
		case payload := <-conn.Messages():
			s.dispatch(ctx, l, payload, observer)
		}
	}
}

// clearConn drops the handle after conn fails, if it is still the live one.
func (s *Session) clearConn(l *loopRun, conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == l && s.conn == conn {
		s.conn = nil
		s.state = StateConnecting
	}
}

// dispatch decodes one payload and delivers it. Malformed payloads are
// logged and dropped.
func (s *Session) dispatch(ctx context.Context, l *loopRun, payload []byte, observer Observer) {
	state, err := ParseMessage(payload)
	if err != nil {
		excerpt := payload
		if len(excerpt) > maxLoggedPayload {
			excerpt = excerpt[:maxLoggedPayload]
		}
		s.logger.Warn("dropping controller message",
			"error", err,
			"payload", string(excerpt),
		)
		return
	}

	if ctx.Err() != nil {
		return
	}

	s.notify(l, observer, state)
}

// notify calls observer, recovering from panics so a faulty observer cannot
// stop the loop.
func (s *Session) notify(l *loopRun, observer Observer, state DeviceState) {
	l.observing.Store(true)
	defer func() {
		l.observing.Store(false)
		if r := recover(); r != nil {
			s.logger.Error("state observer panic recovered",
				"kind", state.Kind().String(),
				"panic", r,
			)
		}
	}()

	observer(state)
}
