package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
)

const (
	// Time allowed to write a message to the backend.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the backend.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the backend.
	maxMessageSize = 512 * 1024

	// Default bound on the handshake round trip.
	defaultHandshakeTimeout = 10 * time.Second

	// Outbound queue depth. Frames beyond this fail fast instead of
	// stalling the caller past the frame deadline.
	sendQueueDepth = 64
)

// State is the protocol state of the client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateActive
	StateDraining
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Event is one downlink delivery to the session controller: either a decoded
// server message or a terminal failure. After an Event with Err set, no
// further events arrive for this connection.
type Event struct {
	Msg ServerMessage
	Err error
}

type outbound struct {
	messageType int
	payload     []byte
}

// Client manages exactly one backend connection per session. It never
// retries on its own: any failure is reported upward and the session
// controller decides what happens next.
type Client struct {
	logger           *zap.Logger
	handshakeTimeout time.Duration

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	session *entities.Session
	lastSeq uint32
	sentAny bool

	send    chan outbound
	drained chan struct{}
	events  chan Event

	// gen numbers the connections. Pumps carry the generation they were
	// started for; a pump whose generation no longer matches must not touch
	// the client's state. connDone is closed when the current connection
	// ends, which releases the write pump immediately.
	gen      int
	connDone chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHandshakeTimeout bounds the hello/acknowledgement round trip.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// NewClient creates a disconnected client.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		logger:           logger,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current protocol state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the downlink channel for the current connection. Valid
// after a successful Connect and until the connection ends.
func (c *Client) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Connect dials the backend, performs the hello handshake and, on success,
// starts the read and write pumps. On any failure the client is back in the
// disconnected state and the error is returned for the controller to route.
func (c *Client) Connect(ctx context.Context, address string, session *entities.Session) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", entities.ErrProtocol, c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: dial %s: %v", entities.ErrConnection, address, err)
	}

	c.setState(StateHandshaking)
	if err := c.handshake(conn, session); err != nil {
		conn.Close()
		c.setState(StateDisconnected)
		return err
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.session = session
	c.sentAny = false
	c.send = make(chan outbound, sendQueueDepth)
	c.drained = make(chan struct{})
	c.events = make(chan Event, 32)
	c.connDone = make(chan struct{})
	c.gen++
	gen := c.gen
	done := c.connDone
	c.state = StateActive
	c.mu.Unlock()

	c.logger.Info("session connected",
		zap.String("sessionID", session.ID),
		zap.String("address", address))

	go c.writePump(conn, gen, done)
	go c.readPump(conn, gen)
	return nil
}

// handshake sends hello and waits for the acknowledgement within the
// handshake timeout.
func (c *Client) handshake(conn *websocket.Conn, session *entities.Session) error {
	payload, err := EncodeCommand(ClientCommand{Type: CommandHello, SessionID: session.ID})
	if err != nil {
		return fmt.Errorf("%w: encode hello: %v", entities.ErrProtocol, err)
	}

	deadline := time.Now().Add(c.handshakeTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: send hello: %v", entities.ErrConnection, err)
	}

	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: handshake read: %v", entities.ErrConnection, err)
	}
	msg, err := DecodeServerMessage(data)
	if err != nil {
		return err
	}
	if msg.Type != ServerHelloAck {
		return fmt.Errorf("%w: expected %s, got %s", entities.ErrProtocol, ServerHelloAck, msg.Type)
	}
	return nil
}

// SendFrame forwards one captured frame as an audio chunk, preserving
// sequence order. The sequence number is claimed under the client lock and
// the single write pump drains the queue in FIFO order, so numbers on the
// wire are strictly increasing with no gaps.
func (c *Client) SendFrame(frame entities.AudioFrame) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return fmt.Errorf("%w: send while %s", entities.ErrConnection, c.state)
	}
	seq := c.session.ClaimSeq()
	c.lastSeq = seq
	c.sentAny = true
	send := c.send
	c.mu.Unlock()

	chunk := EncodeChunk(seq, frame.Bytes())
	select {
	case send <- outbound{messageType: websocket.BinaryMessage, payload: chunk}:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full", entities.ErrConnection)
	}
}

// Drain flushes outstanding chunks, sends bye and closes the transport.
// Used for the graceful paths: turn end and user cancellation.
func (c *Client) Drain() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	drained := c.drained
	c.mu.Unlock()

	// The write pump picks the marker up after everything queued before it.
	close(drained)
}

// Abort tears the connection down immediately, abandoning in-flight I/O.
// Used when the controller leaves the streaming/speaking states by a
// non-graceful path.
func (c *Client) Abort() {
	c.mu.Lock()
	conn := c.conn
	done := c.connDone
	c.conn = nil
	c.state = StateDisconnected
	if conn != nil {
		// Invalidate the pumps started for this connection so their exit
		// errors cannot touch a later connection.
		c.gen++
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
		close(done)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// fail reports a terminal failure upward and disconnects. It acts only on
// the connection it was called for: once the generation has moved on, the
// call closes the stale transport and nothing else. The events channel is
// left open; an Event with Err set (or, on graceful close, session teardown
// by the controller) is the termination signal.
func (c *Client) fail(conn *websocket.Conn, gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	interrupted := c.state == StateActive || c.state == StateDraining
	c.state = StateDisconnected
	c.conn = nil
	events := c.events
	done := c.connDone
	c.mu.Unlock()

	conn.Close()
	close(done)
	if interrupted && err != nil {
		select {
		case events <- Event{Err: err}:
		default:
		}
	}
}

// writePump pumps queued messages to the backend and keeps the connection
// alive with pings. On the drain marker it flushes the queue, sends bye and
// performs the websocket close exchange.
func (c *Client) writePump(conn *websocket.Conn, gen int, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.mu.Lock()
	send := c.send
	drained := c.drained
	session := c.session
	c.mu.Unlock()

	for {
		select {
		case <-done:
			return

		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(msg.messageType, msg.payload); err != nil {
				c.fail(conn, gen, fmt.Errorf("%w: write: %v", entities.ErrConnection, err))
				return
			}

		case <-drained:
			// Flush what is still queued, in order.
			for {
				select {
				case msg := <-send:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(msg.messageType, msg.payload); err != nil {
						c.fail(conn, gen, fmt.Errorf("%w: drain write: %v", entities.ErrConnection, err))
						return
					}
				default:
					bye, err := EncodeCommand(ClientCommand{Type: CommandBye, SessionID: session.ID})
					if err == nil {
						conn.SetWriteDeadline(time.Now().Add(writeWait))
						conn.WriteMessage(websocket.TextMessage, bye)
					}
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					c.fail(conn, gen, nil)
					return
				}
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(conn, gen, fmt.Errorf("%w: ping: %v", entities.ErrConnection, err))
				return
			}
		}
	}
}

// readPump pumps downlink messages to the events channel.
func (c *Client) readPump(conn *websocket.Conn, gen int) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.fail(conn, gen, nil)
			} else {
				c.fail(conn, gen, fmt.Errorf("%w: read: %v", entities.ErrConnection, err))
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			c.logger.Warn("ignoring non-binary downlink message", zap.Int("type", messageType))
			continue
		}

		msg, err := DecodeServerMessage(data)
		if err != nil {
			// One malformed message does not kill the connection; the
			// controller ignores what it cannot classify.
			c.logger.Warn("undecodable downlink message", zap.Error(err))
			continue
		}

		c.mu.Lock()
		stale := gen != c.gen || c.state == StateDisconnected
		c.mu.Unlock()
		if stale {
			return
		}
		events <- Event{Msg: msg}
	}
}

// LastSeq returns the sequence number of the most recently queued chunk.
func (c *Client) LastSeq() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq, c.sentAny
}
