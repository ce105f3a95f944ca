package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Local9/ma2apcmini/internal/config"
	"github.com/Local9/ma2apcmini/internal/protocol"
)

var (
	// ErrFatalSession means the console answered with session -1. The web
	// remote is disabled or the credentials are wrong; retrying cannot help.
	ErrFatalSession = errors.New("session: console rejected web remote session")

	// ErrReentrant is returned when Handle is called from inside one of
	// its own callbacks.
	ErrReentrant = errors.New("session: message handled while another is in progress")
)

// Sender transmits an outbound message if the console link is open.
type Sender interface {
	Send(msg any)
}

// Callbacks are the side effects the machine asks its owner to perform.
type Callbacks interface {
	// StartPoller starts the fixed-period keep-alive. Calls after the
	// first are no-ops.
	StartPoller()
	// ScheduleRefresh re-requests LED state after delay.
	ScheduleRefresh(delay time.Duration)
	ScheduleReconnection()
	// Playbacks receives every playbacks response once logged in.
	Playbacks(msg *protocol.Inbound)
}

// Machine drives the web remote login handshake and tracks the session
// token. Messages must be fed in arrival order from a single goroutine.
type Machine struct {
	cfg       *config.Config
	state     *ConnectionState
	remote    Sender
	callbacks Callbacks
	logger    *slog.Logger

	polling  bool
	handling bool
}

func NewMachine(cfg *config.Config, state *ConnectionState, remote Sender, callbacks Callbacks, logger *slog.Logger) *Machine {
	return &Machine{
		cfg:       cfg,
		state:     state,
		remote:    remote,
		callbacks: callbacks,
		logger:    logger,
	}
}

// TransportOpened records that a fresh connection is waiting for the
// console's server ready greeting.
func (m *Machine) TransportOpened() {
	m.state.MarkDisconnected()
	m.state.Phase = AwaitingServerReady
}

// TransportLost records a closed or failed connection.
func (m *Machine) TransportLost() {
	m.state.MarkDisconnected()
}

// Handle applies one inbound message. The only error that matters to
// the caller is ErrFatalSession, after which no more traffic may be sent.
func (m *Machine) Handle(msg *protocol.Inbound) error {
	if m.handling {
		return ErrReentrant
	}
	m.handling = true
	defer func() { m.handling = false }()

	if msg.Session != nil && *msg.Session == FatalSession {
		return m.fatal()
	}

	switch {
	case msg.Status == protocol.StatusServerReady:
		m.logger.Info("server ready")
		m.state.Phase = AwaitingLogin
		m.remote.Send(protocol.SessionEcho{Session: NoSession})
		return nil

	case msg.ForceLogin && m.state.IsReconnecting:
		m.logger.Warn("login request ignored while a reconnect is pending")
		return nil

	case msg.ForceLogin && !m.state.IsConnected:
		m.login(msg)
		return nil

	case msg.LoginSucceeded():
		m.loggedIn()
		return nil

	case msg.LoginFailed():
		m.logger.Error("login failed", "session", m.state.Session, "username", m.cfg.Remote.Username)
		return nil

	case msg.LimitReached():
		m.logger.Error("connection limit reached, close other web remote connections")
		m.state.MarkDisconnected()
		m.callbacks.ScheduleReconnection()
		return nil
	}

	if !m.state.IsConnected {
		m.logger.Warn("message ignored while not logged in", "responseType", msg.ResponseType)
		return nil
	}

	if m.state.PendingRequestCount >= m.cfg.Remote.RequestThreshold {
		m.requestData()
	}

	if msg.Session != nil {
		switch s := *msg.Session; {
		case s == NoSession:
			m.sessionLost()
		case s > 0:
			if s != m.state.Session {
				m.logger.Debug("session rotated", "from", m.state.Session, "to", s)
			}
			m.state.Session = s
		}
	}

	if msg.Text != "" {
		m.logger.Info("console", "text", msg.Text)
	}

	if msg.ResponseType == protocol.ResponsePlaybacks {
		m.state.PendingRequestCount++
		m.callbacks.Playbacks(msg)
	}
	return nil
}

func (m *Machine) login(msg *protocol.Inbound) {
	if msg.Session != nil {
		m.state.Session = *msg.Session
	}
	m.logger.Info("logging in", "session", m.state.Session, "username", m.cfg.Remote.Username)
	m.state.Phase = AwaitingLogin
	m.remote.Send(protocol.NewLogin(
		m.cfg.Remote.Username,
		m.cfg.Remote.Password,
		m.state.Session,
		m.cfg.Remote.LoginQuota,
	))
}

func (m *Machine) loggedIn() {
	m.state.IsConnected = true
	m.state.Phase = LoggedIn
	m.logger.Info("logged in", "session", m.state.Session)

	if !m.polling {
		m.polling = true
		m.callbacks.StartPoller()
		m.logger.Info("started keep-alive poller", "interval", m.cfg.Timing.PollInterval)
	}

	if m.state.ReconnectAttempts > 0 {
		m.logger.Info("reconnected, refreshing LED state", "attempts", m.state.ReconnectAttempts)
		m.callbacks.ScheduleRefresh(m.cfg.Timing.RefreshDelay)
		m.state.ReconnectAttempts = 0
	}
}

// requestData runs one getdata cycle and resets the pending counter.
func (m *Machine) requestData() {
	m.remote.Send(protocol.SessionEcho{Session: m.state.Session})
	m.remote.Send(protocol.NewGetData(m.state.Session, m.cfg.Remote.DataQuota))
	m.state.PendingRequestCount = 0
}

func (m *Machine) sessionLost() {
	m.logger.Error("connection error, console dropped the session")
	m.state.MarkDisconnected()
	m.callbacks.ScheduleReconnection()
	m.remote.Send(protocol.SessionEcho{Session: m.state.Session})
}

func (m *Machine) fatal() error {
	m.logger.Error("console refused the session: enable Web Remote and check the web remote password",
		"username", m.cfg.Remote.Username)
	m.state.MarkDisconnected()
	m.state.Session = FatalSession
	return ErrFatalSession
}
