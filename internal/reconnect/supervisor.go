// Package reconnect schedules rebuilds of the console and controller
// connections with exponential backoff.
package reconnect

import (
	"log/slog"
	"time"

	"github.com/Local9/ma2apcmini/internal/clock"
	"github.com/Local9/ma2apcmini/internal/config"
	"github.com/Local9/ma2apcmini/internal/session"
)

// Rebuilder recreates the two transports. RebuildDevice reopens the MIDI
// ports and reattaches the input handler; RebuildRemote opens a fresh
// console connection.
type Rebuilder interface {
	RebuildDevice() bool
	RebuildRemote()
}

// Delay returns the wait before the given attempt (1 based):
// base doubled per prior attempt, capped at max.
func Delay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Supervisor owns the reconnect fields of ConnectionState. Schedule and
// Due must both be called from the dispatcher loop; the timer only posts.
type Supervisor struct {
	cfg     config.ReconnectConfig
	state   *session.ConnectionState
	clock   clock.Clock
	post    func()
	rebuild Rebuilder
	logger  *slog.Logger

	timer *clock.Timer
}

// New returns a supervisor whose timer calls post when a reconnect is
// due. The owner is expected to answer by calling Due on its loop.
func New(cfg config.ReconnectConfig, state *session.ConnectionState, clk clock.Clock, post func(), rebuild Rebuilder, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		state:   state,
		clock:   clk,
		post:    post,
		rebuild: rebuild,
		logger:  logger,
	}
}

// Schedule arms one reconnect cycle. It is a no-op while one is already
// pending, so overlapping close and error events collapse into one.
func (s *Supervisor) Schedule() {
	if s.state.IsReconnecting {
		s.logger.Debug("reconnect already scheduled")
		return
	}
	s.state.IsReconnecting = true
	s.state.ReconnectAttempts++

	n := s.state.ReconnectAttempts
	delay := Delay(n, s.cfg.BaseDelay, s.cfg.MaxDelay)
	if n > s.cfg.MaxAttempts {
		s.logger.Warn("reconnect still failing", "attempt", n, "max", s.cfg.MaxAttempts, "delay", delay)
	} else {
		s.logger.Info("scheduling reconnect", "attempt", n, "max", s.cfg.MaxAttempts, "delay", delay)
	}
	s.timer = s.clock.AfterFunc(delay, s.post)
}

// Due runs the scheduled rebuild. The controller is reopened before the
// console so LED traffic after login has somewhere to go. Nothing is
// rebuilt if a login completed while the timer was pending.
func (s *Supervisor) Due() {
	s.timer = nil
	s.state.IsReconnecting = false
	if s.state.IsConnected {
		s.logger.Debug("reconnect skipped, already connected")
		return
	}

	s.logger.Info("reconnecting", "attempt", s.state.ReconnectAttempts)
	if !s.rebuild.RebuildDevice() {
		s.logger.Warn("controller not available, continuing with console reconnect")
	}
	s.rebuild.RebuildRemote()
	s.state.IsConnected = false
}

// Stop cancels a pending reconnect.
func (s *Supervisor) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state.IsReconnecting = false
}
