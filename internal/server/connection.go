package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatstream/internal/auth"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

type connState int

const (
	stateConnecting connState = iota
	stateAwaitingAuth
	stateAuthenticated
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAwaitingAuth:
		return "awaiting-auth"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transport is the subset of *websocket.Conn a Connection drives.
type transport interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one client session. Frames reach the client only through the
// send queue, which the Write pump drains.
type Connection struct {
	id      string
	conn    transport
	cs      *ChatServer
	log     zerolog.Logger
	send    chan Frame
	stop    chan struct{}
	once    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter

	mu        sync.Mutex
	state     connState
	subjectId string
	roomId    string
	authTimer *time.Timer
	lastAck   time.Time
	alive     bool
	closeCode int
	closeText string

	inFlight atomic.Bool
}

func newConnection(id string, conn transport, cs *ChatServer) *Connection {
	ctx, cancel := context.WithCancel(cs.ctx)
	c := &Connection{
		id:        id,
		conn:      conn,
		cs:        cs,
		log:       cs.log.With().Str("conn", id).Logger(),
		send:      make(chan Frame, cs.cfg.MessageQueueSize),
		stop:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		state:     stateConnecting,
		alive:     true,
		lastAck:   time.Now(),
		closeCode: websocket.CloseNormalClosure,
	}
	if cs.cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cs.cfg.RateLimit), cs.cfg.RateBurst)
	}

	return c
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) SubjectId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subjectId
}

func (c *Connection) RoomId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomId
}

func (c *Connection) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) inRoom(roomId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAuthenticated && c.roomId == roomId
}

// begin moves the connection into awaiting-auth, announces it and arms the
// authentication deadline.
func (c *Connection) begin(timeout time.Duration) {
	c.mu.Lock()
	c.state = stateAwaitingAuth
	c.authTimer = time.AfterFunc(timeout, c.authExpired)
	c.mu.Unlock()

	c.queueFrame(ReadyFrame(c.id))
}

func (c *Connection) authExpired() {
	c.mu.Lock()
	if c.state != stateAwaitingAuth {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.mu.Unlock()

	c.log.Info().Msg("authentication deadline expired")
	c.queueFrame(ErrFrame(ErrAuthTimeout, "", nil))
	c.close(websocket.ClosePolicyViolation, ErrAuthTimeout.Error())
}

// authenticate binds claims to the connection. Only the first transition out
// of awaiting-auth succeeds; a connection the deadline already closed
// reports errConnectionClosed.
func (c *Connection) authenticate(claims auth.Claims) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateAwaitingAuth:
	case stateAuthenticated:
		return ErrAlreadyAuthenticated
	default:
		return errConnectionClosed
	}

	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	c.state = stateAuthenticated
	c.subjectId = claims.SubjectId
	c.roomId = claims.RoomId

	return nil
}

func (c *Connection) markAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
	c.lastAck = time.Now()
}

// swapAlive clears the alive flag and returns its previous value.
func (c *Connection) swapAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

func (c *Connection) probe() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// queueFrame enqueues f without blocking and reports whether it was queued.
func (c *Connection) queueFrame(f Frame) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- f:
	default:
		c.log.Warn().Str("type", string(f.Type)).Msg("send queue full, dropping frame")
		return false
	}

	return true
}

// sendFrame enqueues f, waiting for room in the send queue until ctx is done
// or the connection closes.
func (c *Connection) sendFrame(ctx context.Context, f Frame) error {
	select {
	case <-c.stop:
		return errConnectionClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	case <-c.stop:
		return errConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close shuts the connection down gracefully: frames already queued are
// flushed before the close frame is written.
func (c *Connection) close(code int, text string) {
	c.shutdown(code, text, false)
}

// terminate drops the transport immediately.
func (c *Connection) terminate() {
	c.shutdown(websocket.CloseGoingAway, "", true)
}

func (c *Connection) shutdown(code int, text string, drop bool) {
	c.once.Do(func() {
		c.mu.Lock()
		wasAuthenticated := c.state == stateAuthenticated
		c.state = stateClosed
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		c.closeCode = code
		c.closeText = text
		c.mu.Unlock()

		c.cancel()
		close(c.stop)
		if drop && c.conn != nil {
			c.conn.Close()
		}

		c.cs.unregister(c, wasAuthenticated)
		c.log.Debug().Int("code", code).Bool("authenticated", wasAuthenticated).Msg("connection closed")
	})
}

func (c *Connection) Write() {
	defer func() {
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case f := <-c.send:
			if !c.writeFrame(f) {
				return
			}
		case <-c.stop:
			c.flush()
			c.mu.Lock()
			code, text := c.closeCode, c.closeText
			c.mu.Unlock()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Connection) flush() {
	for {
		select {
		case f := <-c.send:
			if !c.writeFrame(f) {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) writeFrame(f Frame) bool {
	bytes, err := serializeFrame(f)
	if err != nil {
		c.log.Error().Err(err).Str("type", string(f.Type)).Msg("failed to serialize frame")
		return true
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, bytes); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Connection) Read() {
	defer c.close(websocket.CloseNormalClosure, "")

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read message")
			}
			return
		}

		c.cs.router.dispatch(c, raw)
	}
}
