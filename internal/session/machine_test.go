package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Local9/ma2apcmini/internal/config"
	"github.com/Local9/ma2apcmini/internal/protocol"
)

type recordingSender struct {
	sent []any
}

func (r *recordingSender) Send(msg any) { r.sent = append(r.sent, msg) }

func (r *recordingSender) take() []any {
	out := r.sent
	r.sent = nil
	return out
}

type recordingCallbacks struct {
	pollerStarts  int
	refreshes     []time.Duration
	reconnections int
	playbacks     []*protocol.Inbound
}

func (c *recordingCallbacks) StartPoller() { c.pollerStarts++ }
func (c *recordingCallbacks) ScheduleRefresh(d time.Duration) { c.refreshes = append(c.refreshes, d) }
func (c *recordingCallbacks) ScheduleReconnection() { c.reconnections++ }
func (c *recordingCallbacks) Playbacks(msg *protocol.Inbound) { c.playbacks = append(c.playbacks, msg) }

type fixture struct {
	cfg    *config.Config
	state  *ConnectionState
	sender *recordingSender
	cb     *recordingCallbacks
	m      *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cfg:    config.Default(),
		state:  &ConnectionState{},
		sender: &recordingSender{},
		cb:     &recordingCallbacks{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.m = NewMachine(f.cfg, f.state, f.sender, f.cb, logger)
	return f
}

func (f *fixture) feed(t *testing.T, raw string) {
	t.Helper()
	msg, err := protocol.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode(%s): %v", raw, err)
	}
	if err := f.m.Handle(msg); err != nil {
		t.Fatalf("Handle(%s): %v", raw, err)
	}
}

// login runs the handshake through to a successful login with session 42.
func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.m.TransportOpened()
	f.feed(t, `{"status":"server ready"}`)
	f.feed(t, `{"forceLogin":true,"session":42}`)
	f.feed(t, `{"responseType":"login","result":true}`)
	f.sender.take()
}

func TestHandshake(t *testing.T) {
	f := newFixture(t)

	f.m.TransportOpened()
	if f.state.Phase != AwaitingServerReady {
		t.Fatalf("Phase = %v after open", f.state.Phase)
	}

	f.feed(t, `{"status":"server ready"}`)
	sent := f.sender.take()
	if len(sent) != 1 || sent[0] != (protocol.SessionEcho{Session: 0}) {
		t.Fatalf("server ready sent %v, want [{session:0}]", sent)
	}

	f.feed(t, `{"forceLogin":true,"session":42}`)
	sent = f.sender.take()
	want := protocol.Login{
		RequestType: protocol.RequestLogin,
		Username:    "apcmini",
		Password:    "2c18e486683a3db1e645ad8523223b72",
		Session:     42,
		MaxRequests: 10,
	}
	if len(sent) != 1 || sent[0] != want {
		t.Fatalf("forceLogin sent %v, want %v", sent, want)
	}
	if f.state.Session != 42 || f.state.Phase != AwaitingLogin {
		t.Errorf("state = %+v", f.state)
	}

	f.feed(t, `{"responseType":"login","result":true}`)
	if !f.state.IsConnected || f.state.Phase != LoggedIn {
		t.Fatalf("not logged in: %+v", f.state)
	}
	if f.cb.pollerStarts != 1 {
		t.Errorf("pollerStarts = %d, want 1", f.cb.pollerStarts)
	}
	if len(f.cb.refreshes) != 0 {
		t.Errorf("refresh scheduled on first login: %v", f.cb.refreshes)
	}
}

func TestLoginAfterReconnectSchedulesRefresh(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.state.ReconnectAttempts = 2
	f.m.TransportOpened()
	f.feed(t, `{"status":"server ready"}`)
	f.feed(t, `{"forceLogin":true,"session":43}`)
	f.feed(t, `{"responseType":"login","result":true}`)

	if len(f.cb.refreshes) != 1 || f.cb.refreshes[0] != time.Second {
		t.Errorf("refreshes = %v, want [1s]", f.cb.refreshes)
	}
	if f.state.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", f.state.ReconnectAttempts)
	}
	if f.cb.pollerStarts != 1 {
		t.Errorf("poller started %d times, want 1", f.cb.pollerStarts)
	}
}

func TestLoginFailure(t *testing.T) {
	f := newFixture(t)
	f.m.TransportOpened()
	f.feed(t, `{"forceLogin":true,"session":5}`)
	f.sender.take()

	f.feed(t, `{"responseType":"login","result":false}`)
	if f.state.IsConnected {
		t.Error("connected after failed login")
	}
	if sent := f.sender.take(); len(sent) != 0 {
		t.Errorf("failed login sent %v", sent)
	}
	if f.cb.reconnections != 0 {
		t.Errorf("failed login scheduled reconnection")
	}
}

func TestForceLoginIgnoredWhenConnected(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.feed(t, `{"forceLogin":true,"session":99}`)
	for _, msg := range f.sender.take() {
		if _, ok := msg.(protocol.Login); ok {
			t.Fatal("login resent while connected")
		}
	}
	if f.state.Session != 99 {
		t.Errorf("Session = %d, want adopted 99", f.state.Session)
	}
}

func TestForceLoginIgnoredWhileReconnecting(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.feed(t, `{"session":0}`)
	f.sender.take()
	f.state.IsReconnecting = true

	f.feed(t, `{"forceLogin":true,"session":77}`)
	if sent := f.sender.take(); len(sent) != 0 {
		t.Errorf("sent %v while reconnecting", sent)
	}
	if f.state.Session != 42 {
		t.Errorf("Session = %d, want 42", f.state.Session)
	}
	if f.state.Phase == AwaitingLogin {
		t.Error("login started while reconnecting")
	}
}

func TestFatalSession(t *testing.T) {
	for _, connected := range []bool{false, true} {
		f := newFixture(t)
		if connected {
			f.login(t)
		}
		msg, err := protocol.Decode([]byte(`{"session":-1}`))
		if err != nil {
			t.Fatal(err)
		}
		if err := f.m.Handle(msg); !errors.Is(err, ErrFatalSession) {
			t.Errorf("connected=%v: Handle = %v, want ErrFatalSession", connected, err)
		}
		if f.state.IsConnected {
			t.Errorf("connected=%v: still connected after fatal session", connected)
		}
		if sent := f.sender.take(); len(sent) != 0 {
			t.Errorf("connected=%v: fatal session sent %v", connected, sent)
		}
	}
}

func TestConnectionsLimitReached(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.feed(t, `{"connections_limit_reached":true}`)
	if f.state.IsConnected {
		t.Error("still connected")
	}
	if f.cb.reconnections != 1 {
		t.Errorf("reconnections = %d, want 1", f.cb.reconnections)
	}
}

func TestSessionZeroAfterLogin(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.feed(t, `{"session":0}`)
	if f.state.IsConnected {
		t.Error("still connected after session 0")
	}
	if f.cb.reconnections != 1 {
		t.Errorf("reconnections = %d, want 1", f.cb.reconnections)
	}
	sent := f.sender.take()
	if len(sent) != 1 || sent[0] != (protocol.SessionEcho{Session: 42}) {
		t.Errorf("sent %v, want echo of session 42", sent)
	}
}

func TestSessionRotation(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.feed(t, `{"session":77}`)
	if f.state.Session != 77 {
		t.Errorf("Session = %d, want 77", f.state.Session)
	}
	if !f.state.IsConnected {
		t.Error("rotation dropped the connection")
	}
}

func TestIgnoredBeforeLogin(t *testing.T) {
	f := newFixture(t)
	f.m.TransportOpened()

	f.feed(t, `{"responseType":"playbacks","responseSubType":3,"session":8}`)
	if len(f.cb.playbacks) != 0 {
		t.Error("playbacks delivered before login")
	}
	if f.state.Session != 0 || f.state.PendingRequestCount != 0 {
		t.Errorf("state changed before login: %+v", f.state)
	}
}

func TestDataRequestCycle(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	const playbacks = `{"responseType":"playbacks","responseSubType":3}`
	for i := 0; i < 10; i++ {
		f.feed(t, playbacks)
	}
	if f.state.PendingRequestCount != 10 {
		t.Fatalf("PendingRequestCount = %d, want 10", f.state.PendingRequestCount)
	}
	if sent := f.sender.take(); len(sent) != 0 {
		t.Fatalf("sent %v before threshold was checked", sent)
	}

	f.feed(t, playbacks)
	sent := f.sender.take()
	if len(sent) != 2 {
		t.Fatalf("sent %v, want session echo and getdata", sent)
	}
	if sent[0] != (protocol.SessionEcho{Session: 42}) {
		t.Errorf("sent[0] = %v", sent[0])
	}
	if sent[1] != protocol.NewGetData(42, 1) {
		t.Errorf("sent[1] = %v", sent[1])
	}
	if f.state.PendingRequestCount != 1 {
		t.Errorf("PendingRequestCount = %d, want 1 after reset and count", f.state.PendingRequestCount)
	}
	if len(f.cb.playbacks) != 11 {
		t.Errorf("playbacks delivered = %d, want 11", len(f.cb.playbacks))
	}
}

func TestThresholdResetOnNonPlaybacks(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.state.PendingRequestCount = 13

	f.feed(t, `{"text":"hello"}`)
	if f.state.PendingRequestCount != 0 {
		t.Errorf("PendingRequestCount = %d, want 0", f.state.PendingRequestCount)
	}
}

func TestTransportLost(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.m.TransportLost()
	if f.state.IsConnected || f.state.Phase != Disconnected {
		t.Errorf("state = %+v", f.state)
	}
}

type reentrantCallbacks struct {
	recordingCallbacks
	m   *Machine
	err error
}

func (c *reentrantCallbacks) ScheduleReconnection() {
	c.err = c.m.Handle(&protocol.Inbound{})
}

func TestHandleRejectsReentry(t *testing.T) {
	cfg := config.Default()
	state := &ConnectionState{IsConnected: true}
	cb := &reentrantCallbacks{}
	cb.m = NewMachine(cfg, state, &recordingSender{}, cb, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := cb.m.Handle(&protocol.Inbound{ConnectionsLimitReached: []byte("true")}); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(cb.err, ErrReentrant) {
		t.Errorf("nested Handle = %v, want ErrReentrant", cb.err)
	}
}

func TestPhaseString(t *testing.T) {
	if LoggedIn.String() != "logged_in" || Phase(42).String() != "unknown" {
		t.Error("Phase.String mismatch")
	}
}
