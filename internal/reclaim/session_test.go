package reclaim

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Mocks
// =============================================================================

type publishCall struct {
	topic   string
	payload []byte
	qos     byte
}

// mockConn implements Conn with in-memory channels.
type mockConn struct {
	mu           sync.Mutex
	subscribed   []string
	published    []publishCall
	publishErr   error
	subscribeErr error
	closed       bool

	messages chan []byte
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newMockConn() *mockConn {
	return &mockConn{
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

func (c *mockConn) Subscribe(_ context.Context, topic string, _ byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subscribed = append(c.subscribed, topic)
	return nil
}

func (c *mockConn) Publish(_ context.Context, topic string, payload []byte, qos byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishCall{topic: topic, payload: payload, qos: qos})
	return nil
}

func (c *mockConn) Messages() <-chan []byte { return c.messages }
func (c *mockConn) Done() <-chan struct{}   { return c.done }

func (c *mockConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *mockConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

// drop simulates the broker dropping the connection.
func (c *mockConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *mockConn) publishedMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.published))
	for _, p := range c.published {
		var msg Message
		_ = json.Unmarshal(p.payload, &msg)
		out = append(out, msg)
	}
	return out
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mockDialer hands out queued connections, or errors when the queue is empty.
type mockDialer struct {
	mu    sync.Mutex
	conns []*mockConn
	dials int
	err   error
	dial  chan *mockConn
}

func newMockDialer(conns ...*mockConn) *mockDialer {
	return &mockDialer{conns: conns, dial: make(chan *mockConn, 16)}
}

func (d *mockDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.conns) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	d.dial <- conn
	return conn, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recorder collects observer callbacks.
type recorder struct {
	mu     sync.Mutex
	states []DeviceState
	notify chan DeviceState
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan DeviceState, 16)}
}

func (r *recorder) observe(state DeviceState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	r.notify <- state
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) next(t *testing.T) DeviceState {
	t.Helper()
	select {
	case state := <-r.notify:
		return state
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for observer")
		return DeviceState{}
	}
}

func testIdentifier(t *testing.T) Identifier {
	t.Helper()
	id, err := ParseIdentifier("11922263576047433", DefaultChecksumWidth)
	if err != nil {
		t.Fatalf("ParseIdentifier() error = %v", err)
	}
	return id
}

func newTestSession(t *testing.T, dialer Dialer) *Session {
	t.Helper()
	s, err := NewSession(SessionOptions{Identifier: testIdentifier(t), Dialer: dialer})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	s.retryDelay = 10 * time.Millisecond
	t.Cleanup(s.Disconnect)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitConnected(t *testing.T, d *mockDialer) *mockConn {
	t.Helper()
	select {
	case conn := <-d.dial:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNewSession(t *testing.T) {
	s := newTestSession(t, newMockDialer())

	if s.State() != StateIdle {
		t.Errorf("State() = %v, want idle", s.State())
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if got := s.Topics().Status(); got != "dontek2a5b3c4d5e6f/status/psw" {
		t.Errorf("Topics().Status() = %q", got)
	}
	if s.Identifier().String() != "11922263576047433" {
		t.Errorf("Identifier() = %q", s.Identifier())
	}
}

func TestNewSession_Errors(t *testing.T) {
	if _, err := NewSession(SessionOptions{Dialer: newMockDialer()}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("NewSession() without identifier error = %v, want ErrInvalidIdentifier", err)
	}
	if _, err := NewSession(SessionOptions{Identifier: testIdentifier(t)}); err == nil {
		t.Error("NewSession() without dialer expected error")
	}
}

// =============================================================================
// Connection loop
// =============================================================================

func TestSession_ConnectSubscribesAndRequestsSnapshot(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	s := newTestSession(t, dialer)

	if err := s.Connect(newRecorder().observe); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected state", func() bool { return s.State() == StateConnected })

	conn.mu.Lock()
	subscribed := append([]string(nil), conn.subscribed...)
	conn.mu.Unlock()
	if len(subscribed) != 1 || subscribed[0] != "dontek2a5b3c4d5e6f/status/psw" {
		t.Errorf("subscribed = %v, want status topic", subscribed)
	}

	waitFor(t, "snapshot request", func() bool { return len(conn.publishedMessages()) == 1 })
	msg := conn.publishedMessages()[0]
	if msg.MessageID != MessageRead || msg.Register != FullTableRegister {
		t.Errorf("first publish = %+v, want full-table read", msg)
	}
	conn.mu.Lock()
	call := conn.published[0]
	conn.mu.Unlock()
	if call.topic != "dontek2a5b3c4d5e6f/cmd/psw" || call.qos != 1 {
		t.Errorf("published on %s qos %d, want command topic qos 1", call.topic, call.qos)
	}
}

func TestSession_ConnectTwice(t *testing.T) {
	s := newTestSession(t, newMockDialer(newMockConn()))

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Connect(nil); !errors.Is(err, ErrSessionRunning) {
		t.Errorf("second Connect() error = %v, want ErrSessionRunning", err)
	}
}

func TestSession_DeliversInArrivalOrder(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	rec := newRecorder()
	s := newTestSession(t, dialer)

	if err := s.Connect(rec.observe); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)

	conn.messages <- []byte(`{"messageId":"read","modbusReg":1,"modbusVal":[200,1,79,440,225,1500]}`)
	conn.messages <- []byte(`not json`)
	conn.messages <- []byte(`{"messageId":"read","modbusReg":1,"modbusVal":[200,1,79]}`)
	conn.messages <- []byte(`{"messageId":"write","modbusReg":40990,"modbusVal":[1]}`)

	first := rec.next(t)
	if first.Kind() != Snapshot {
		t.Fatalf("first state kind = %v, want snapshot", first.Kind())
	}
	if water, _ := first.Float(AttrWater); water != 220.0 {
		t.Errorf("water = %v, want 220.0", water)
	}

	second := rec.next(t)
	if second.Kind() != Delta {
		t.Fatalf("second state kind = %v, want delta", second.Kind())
	}
	if boost, _ := second.Bool(AttrBoost); !boost {
		t.Error("boost = false, want true")
	}

	if rec.count() != 2 {
		t.Errorf("observer called %d times, want 2 (malformed dropped)", rec.count())
	}
}

func TestSession_ReconnectsAfterConnectionLoss(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	dialer := newMockDialer(first, second)
	rec := newRecorder()
	s := newTestSession(t, dialer)

	if err := s.Connect(rec.observe); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected", s.IsConnected)

	first.drop(errors.New("connection reset"))

	waitConnected(t, dialer)
	waitFor(t, "snapshot request on new connection", func() bool {
		return len(second.publishedMessages()) == 1
	})
	if !first.isClosed() {
		t.Error("lost connection was not closed")
	}

	second.messages <- []byte(`{"messageId":"write","modbusReg":225,"modbusVal":[900]}`)
	if power, _ := rec.next(t).Int(AttrPower); power != 900 {
		t.Errorf("power = %d, want 900", power)
	}
}

func TestSession_RetriesFailedDials(t *testing.T) {
	dialer := newMockDialer()
	s := newTestSession(t, dialer)

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitFor(t, "repeated dials", func() bool { return dialer.dialCount() >= 3 })
	if s.State() != StateConnecting {
		t.Errorf("State() = %v, want connecting", s.State())
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true without a connection")
	}
}

func TestSession_SubscribeFailureRetries(t *testing.T) {
	bad := newMockConn()
	bad.subscribeErr = errors.New("not authorised")
	good := newMockConn()
	dialer := newMockDialer(bad, good)
	s := newTestSession(t, dialer)

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitConnected(t, dialer)
	waitConnected(t, dialer)
	waitFor(t, "connected", s.IsConnected)

	if !bad.isClosed() {
		t.Error("connection with failed subscribe was not closed")
	}
}

func TestSession_FixedRetryDelay(t *testing.T) {
	dialer := newMockDialer()
	s := newTestSession(t, dialer)
	s.retryDelay = 200 * time.Millisecond

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "first dial", func() bool { return dialer.dialCount() == 1 })

	time.Sleep(100 * time.Millisecond)
	if n := dialer.dialCount(); n != 1 {
		t.Errorf("dials before retry delay = %d, want 1", n)
	}
}

// =============================================================================
// Disconnect
// =============================================================================

func TestSession_Disconnect(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	s := newTestSession(t, dialer)

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected", s.IsConnected)

	s.Disconnect()

	if s.State() != StateIdle {
		t.Errorf("State() after Disconnect = %v, want idle", s.State())
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if !conn.isClosed() {
		t.Error("connection not closed by Disconnect")
	}
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	s := newTestSession(t, newMockDialer())

	s.Disconnect()
	s.Disconnect()

	if s.State() != StateIdle {
		t.Errorf("State() = %v, want idle", s.State())
	}
}

func TestSession_NoCallbacksAfterDisconnect(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	rec := newRecorder()
	s := newTestSession(t, dialer)

	if err := s.Connect(rec.observe); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected", s.IsConnected)

	s.Disconnect()
	before := rec.count()

	// A message in flight after shutdown must never reach the observer.
	conn.messages <- []byte(`{"messageId":"write","modbusReg":225,"modbusVal":[1]}`)
	time.Sleep(50 * time.Millisecond)

	if after := rec.count(); after != before {
		t.Errorf("observer called %d times after Disconnect", after-before)
	}
}

func TestSession_DisconnectFromObserver(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	dialer := newMockDialer(first, second)
	s := newTestSession(t, dialer)

	var calls atomic.Int32
	returned := make(chan struct{})
	var once sync.Once
	observer := func(DeviceState) {
		calls.Add(1)
		s.Disconnect()
		once.Do(func() { close(returned) })
	}

	if err := s.Connect(observer); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected", s.IsConnected)

	ack := []byte(`{"messageId":"write","modbusReg":225,"modbusVal":[1]}`)
	first.messages <- ack

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect called from the observer did not return")
	}

	waitFor(t, "idle", func() bool { return s.State() == StateIdle })
	if s.IsConnected() {
		t.Error("IsConnected() = true after Disconnect from observer")
	}
	waitFor(t, "transport closed", first.isClosed)

	first.messages <- ack
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("observer called %d times, want 1", n)
	}

	// The lifecycle is not wedged: the session starts again.
	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() after Disconnect from observer error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected again", s.IsConnected)
}

func TestSession_ShuttingDownIsNotConnected(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	s := newTestSession(t, dialer)

	entered := make(chan struct{})
	release := make(chan struct{})
	observer := func(DeviceState) {
		close(entered)
		<-release
	}

	if err := s.Connect(observer); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected", s.IsConnected)

	conn.messages <- []byte(`{"messageId":"write","modbusReg":225,"modbusVal":[1]}`)
	<-entered

	// The observer is still running, so Disconnect does not wait for it.
	stopped := make(chan struct{})
	go func() {
		s.Disconnect()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked on a running observer")
	}

	if got := s.State(); got != StateShuttingDown {
		t.Errorf("State() = %v, want shutting_down", got)
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true while shutting down")
	}
	if err := s.SetValue(context.Background(), AttrBoost, true); err != nil {
		t.Errorf("SetValue() while shutting down error = %v, want nil", err)
	}
	for _, msg := range conn.publishedMessages() {
		if msg.Register == 40990 {
			t.Error("command published while shutting down")
		}
	}

	close(release)
	waitFor(t, "idle", func() bool { return s.State() == StateIdle })
	waitFor(t, "transport closed", conn.isClosed)
}

func TestSession_ReconnectAfterDisconnect(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	dialer := newMockDialer(first, second)
	s := newTestSession(t, dialer)

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	s.Disconnect()

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() after Disconnect error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected again", s.IsConnected)

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestSession_RequestUpdateDisconnected(t *testing.T) {
	s := newTestSession(t, newMockDialer())

	if err := s.RequestUpdate(context.Background()); err != nil {
		t.Errorf("RequestUpdate() while disconnected error = %v, want nil", err)
	}
}

func TestSession_SetValue(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	s := newTestSession(t, dialer)

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "snapshot request", func() bool { return len(conn.publishedMessages()) == 1 })

	if err := s.SetValue(context.Background(), AttrMode, "Timer"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	msgs := conn.publishedMessages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	write := msgs[1]
	if write.MessageID != MessageWrite || write.Register != 40991 || len(write.Values) != 1 || write.Values[0] != 5 {
		t.Errorf("write = %+v, want mode register 40991 value 5", write)
	}
}

func TestSession_SetValueErrors(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	s := newTestSession(t, dialer)

	if err := s.Connect(nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "snapshot request", func() bool { return len(conn.publishedMessages()) == 1 })

	tests := []struct {
		name    string
		attr    Attribute
		value   any
		wantErr error
	}{
		{"read-only", AttrWater, 50.0, ErrReadOnlyAttribute},
		{"unknown", "warp_drive", 1, ErrUnknownAttribute},
		{"bad label", AttrMode, "Turbo", ErrEncodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetValue(context.Background(), tt.attr, tt.value); !errors.Is(err, tt.wantErr) {
				t.Errorf("SetValue() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if n := len(conn.publishedMessages()); n != 1 {
		t.Errorf("published %d messages, want only the snapshot request", n)
	}
}

func TestSession_SetValueReadOnlyWhileDisconnected(t *testing.T) {
	s := newTestSession(t, newMockDialer())

	err := s.SetValue(context.Background(), AttrPump, 1)
	if !errors.Is(err, ErrReadOnlyAttribute) {
		t.Errorf("SetValue() error = %v, want ErrReadOnlyAttribute", err)
	}
}

func TestSession_PublishFailure(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	rec := newRecorder()
	s := newTestSession(t, dialer)

	if err := s.Connect(rec.observe); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)
	waitFor(t, "connected", s.IsConnected)

	conn.mu.Lock()
	conn.publishErr = errors.New("broker busy")
	conn.mu.Unlock()

	if err := s.SetValue(context.Background(), AttrBoost, true); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("SetValue() error = %v, want ErrPublishFailed", err)
	}
	if err := s.RequestUpdate(context.Background()); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("RequestUpdate() error = %v, want ErrPublishFailed", err)
	}

	// The session stays up and keeps delivering.
	if !s.IsConnected() {
		t.Error("publish failure disconnected the session")
	}
	conn.messages <- []byte(`{"messageId":"write","modbusReg":40990,"modbusVal":[0]}`)
	rec.next(t)
	if dialer.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", dialer.dialCount())
	}
}

func TestSession_ObserverPanicRecovered(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(conn)
	rec := newRecorder()
	s := newTestSession(t, dialer)

	var once sync.Once
	observer := func(state DeviceState) {
		once.Do(func() { panic("observer bug") })
		rec.observe(state)
	}

	if err := s.Connect(observer); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, dialer)

	conn.messages <- []byte(`{"messageId":"write","modbusReg":225,"modbusVal":[1]}`)
	conn.messages <- []byte(`{"messageId":"write","modbusReg":225,"modbusVal":[2]}`)

	if power, _ := rec.next(t).Int(AttrPower); power != 2 {
		t.Errorf("power = %d, want 2", power)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("observer panic caused a reconnect: dials = %d", dialer.dialCount())
	}
}

func TestSession_HealthCheck(t *testing.T) {
	s := newTestSession(t, newMockDialer())

	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on idle session expected error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestSessionStateString(t *testing.T) {
	for state, want := range map[SessionState]string{
		StateIdle:         "idle",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateShuttingDown: "shutting_down",
		SessionState(9):   "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("SessionState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
