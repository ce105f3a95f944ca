package session

// Phase is the handshake position of the console connection.
type Phase int

const (
	Disconnected Phase = iota
	AwaitingServerReady
	AwaitingLogin
	LoggedIn
)

var phaseNames = map[Phase]string{
	Disconnected:        "disconnected",
	AwaitingServerReady: "awaiting_server_ready",
	AwaitingLogin:       "awaiting_login",
	LoggedIn:            "logged_in",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

const (
	// NoSession is the token before the console assigns one.
	NoSession = 0
	// FatalSession is sent by the console when the web remote is disabled
	// or the password does not match.
	FatalSession = -1
)

// ConnectionState is the one piece of connection bookkeeping shared by
// the state machine and the reconnect supervisor. It is only touched
// from the dispatcher loop.
type ConnectionState struct {
	Phase Phase

	// IsConnected becomes true only on a successful login response.
	IsConnected bool
	// IsReconnecting is set while a reconnect cycle is scheduled.
	IsReconnecting    bool
	ReconnectAttempts int

	Session int
	// PendingRequestCount counts playbacks responses since the last
	// getdata cycle.
	PendingRequestCount int
}

// MarkDisconnected drops the logged-in status without touching the
// reconnect bookkeeping.
func (s *ConnectionState) MarkDisconnected() {
	s.IsConnected = false
	s.Phase = Disconnected
}
