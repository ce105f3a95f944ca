package reconnect

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Local9/ma2apcmini/internal/clock"
	"github.com/Local9/ma2apcmini/internal/config"
	"github.com/Local9/ma2apcmini/internal/session"
)

func TestDelay(t *testing.T) {
	base, max := time.Second, 30*time.Second
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := Delay(i+1, base, max); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := Delay(1000, base, max); got != max {
		t.Errorf("Delay(1000) = %v, want cap", got)
	}
	if got := Delay(0, base, max); got != base {
		t.Errorf("Delay(0) = %v, want base", got)
	}
}

type recordingRebuilder struct {
	calls    []string
	deviceOK bool
}

func (r *recordingRebuilder) RebuildDevice() bool {
	r.calls = append(r.calls, "device")
	return r.deviceOK
}

func (r *recordingRebuilder) RebuildRemote() {
	r.calls = append(r.calls, "remote")
}

type harness struct {
	clk     *clock.FakeClock
	state   *session.ConnectionState
	rebuild *recordingRebuilder
	sup     *Supervisor
	posts   int
}

// newHarness wires the timer straight to Due, the way the dispatcher
// does through its event channel.
func newHarness() *harness {
	h := &harness{
		clk:     clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		state:   &session.ConnectionState{},
		rebuild: &recordingRebuilder{deviceOK: true},
	}
	post := func() {
		h.posts++
		h.sup.Due()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.sup = New(config.Default().Reconnect, h.state, h.clk, post, h.rebuild, logger)
	return h
}

func TestScheduleIsIdempotent(t *testing.T) {
	h := newHarness()

	h.sup.Schedule()
	h.sup.Schedule()
	h.sup.Schedule()
	if h.state.ReconnectAttempts != 1 {
		t.Errorf("ReconnectAttempts = %d, want 1", h.state.ReconnectAttempts)
	}
	if !h.state.IsReconnecting {
		t.Error("IsReconnecting = false")
	}
	if h.clk.Pending() != 1 {
		t.Errorf("pending timers = %d, want 1", h.clk.Pending())
	}
}

func TestDueRebuildsDeviceThenRemote(t *testing.T) {
	h := newHarness()
	h.sup.Schedule()

	h.clk.Advance(999 * time.Millisecond)
	if h.posts != 0 {
		t.Fatal("fired before the first backoff elapsed")
	}
	h.clk.Advance(time.Millisecond)
	if h.posts != 1 {
		t.Fatalf("posts = %d, want 1", h.posts)
	}
	if len(h.rebuild.calls) != 2 || h.rebuild.calls[0] != "device" || h.rebuild.calls[1] != "remote" {
		t.Errorf("rebuild order = %v", h.rebuild.calls)
	}
	if h.state.IsReconnecting {
		t.Error("IsReconnecting still set after the cycle ran")
	}
	if h.state.IsConnected {
		t.Error("IsConnected set by reconnect")
	}
}

func TestDueSkipsWhenConnected(t *testing.T) {
	h := newHarness()
	h.sup.Schedule()
	h.state.IsConnected = true

	h.clk.Advance(time.Second)
	if len(h.rebuild.calls) != 0 {
		t.Errorf("rebuilt while connected: %v", h.rebuild.calls)
	}
	if h.state.IsReconnecting {
		t.Error("IsReconnecting still set")
	}
}

func TestBackoffGrowsAcrossFailures(t *testing.T) {
	h := newHarness()
	h.rebuild.deviceOK = false

	var elapsed []time.Duration
	for attempt := 1; attempt <= 6; attempt++ {
		h.sup.Schedule()
		start := h.clk.Now()
		for h.posts < attempt {
			h.clk.Advance(time.Second)
		}
		elapsed = append(elapsed, h.clk.Now().Sub(start))
	}

	want := []time.Duration{1, 2, 4, 8, 16, 30}
	for i, w := range want {
		if elapsed[i] != w*time.Second {
			t.Errorf("attempt %d waited %v, want %v", i+1, elapsed[i], w*time.Second)
		}
	}
	if h.state.ReconnectAttempts != 6 {
		t.Errorf("ReconnectAttempts = %d, want 6 (max is advisory)", h.state.ReconnectAttempts)
	}
}

func TestStopCancelsPending(t *testing.T) {
	h := newHarness()
	h.sup.Schedule()
	h.sup.Stop()

	h.clk.Advance(time.Minute)
	if h.posts != 0 {
		t.Error("stopped reconnect fired")
	}
	if h.state.IsReconnecting {
		t.Error("IsReconnecting still set after Stop")
	}
}
