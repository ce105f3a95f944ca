// Package remote is the WebSocket link to the console's web remote.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

// ErrBinaryFrame is reported for binary frames, which the web remote
// never sends.
var ErrBinaryFrame = errors.New("remote: unexpected binary frame")

type Kind int

const (
	Opened Kind = iota + 1
	Closed
	Error
	Message
)

var kindNames = map[Kind]string{
	Opened:  "opened",
	Closed:  "closed",
	Error:   "error",
	Message: "message",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one transport notification. Gen identifies the connection
// that produced it; compare with Client.Generation to drop stale events.
type Event struct {
	Kind Kind
	Gen  uint64
	Data []byte
	Err  error
}

// Handler receives events from the read goroutine. It must not block.
type Handler interface {
	HandleRemoteEvent(Event)
}

type HandlerFunc func(Event)

func (f HandlerFunc) HandleRemoteEvent(ev Event) { f(ev) }

// Client keeps at most one live connection. Connect replaces it; the
// replaced connection is closed without reporting Closed.
type Client struct {
	url     string
	dialer  websocket.Dialer
	handler Handler
	logger  *slog.Logger

	mu  sync.Mutex
	gen uint64
	cur *conn
}

type conn struct {
	gen     uint64
	ws      *websocket.Conn
	send    chan []byte
	open    bool
	stopped bool
}

func NewClient(url string, handler Handler, logger *slog.Logger) *Client {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = dialTimeout
	return &Client{url: url, dialer: dialer, handler: handler, logger: logger}
}

// Connect starts dialing in the background and returns immediately.
// Outcomes arrive on the handler as Opened or Closed.
func (c *Client) Connect() {
	c.mu.Lock()
	old := c.cur
	c.gen++
	cn := &conn{gen: c.gen, send: make(chan []byte, sendBuffer)}
	c.cur = cn
	c.mu.Unlock()

	if old != nil {
		c.shutdown(old)
	}
	c.logger.Info("connecting", "url", c.url, "gen", cn.gen)
	go c.run(cn)
}

// Generation returns the tag of the current connection. It changes on
// every Connect and Close.
func (c *Client) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// IsOpen reports whether the current connection completed its handshake.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && c.cur.open
}

// Send encodes msg as JSON and queues it. Messages are dropped while the
// connection is not open or when the queue is full.
func (c *Client) Send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encode outbound message", "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || !c.cur.open {
		c.logger.Debug("send dropped, not connected")
		return
	}
	select {
	case c.cur.send <- data:
	default:
		c.logger.Warn("send queue full, message dropped")
	}
}

// Close shuts the current connection down without reporting Closed. It
// is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	cn := c.cur
	c.cur = nil
	c.gen++
	c.mu.Unlock()

	if cn != nil {
		c.shutdown(cn)
	}
}

func (c *Client) shutdown(cn *conn) {
	c.mu.Lock()
	cn.stopped = true
	ws := cn.ws
	if cn.open {
		cn.open = false
		close(cn.send)
		ws = nil // writePump sends the close frame and closes the socket
	}
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

func (c *Client) run(cn *conn) {
	ws, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		c.emit(cn, Event{Kind: Closed, Err: fmt.Errorf("remote: dial %s: %w", c.url, err)})
		return
	}

	c.mu.Lock()
	if cn.stopped {
		c.mu.Unlock()
		ws.Close()
		return
	}
	cn.ws = ws
	cn.open = true
	c.mu.Unlock()

	go c.writePump(cn, ws)
	c.emit(cn, Event{Kind: Opened})
	c.readLoop(cn, ws)
}

func (c *Client) readLoop(cn *conn, ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if cn.open {
				cn.open = false
				close(cn.send)
			}
			c.mu.Unlock()
			c.emit(cn, Event{Kind: Closed, Err: err})
			return
		}
		if mt == websocket.BinaryMessage {
			c.emit(cn, Event{Kind: Error, Err: ErrBinaryFrame})
			continue
		}
		c.emit(cn, Event{Kind: Message, Data: data})
	}
}

func (c *Client) writePump(cn *conn, ws *websocket.Conn) {
	defer ws.Close()
	for msg := range cn.send {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Warn("write failed", "gen", cn.gen, "err", err)
			return
		}
	}
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// emit forwards ev unless cn was closed on purpose or replaced.
func (c *Client) emit(cn *conn, ev Event) {
	c.mu.Lock()
	live := c.cur == cn && !cn.stopped
	c.mu.Unlock()
	if !live {
		return
	}
	ev.Gen = cn.gen
	c.handler.HandleRemoteEvent(ev)
}
