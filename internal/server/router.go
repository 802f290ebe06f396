package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatstream/internal/auth"
	"github.com/npezzotti/go-chatstream/internal/stats"
	"github.com/npezzotti/go-chatstream/internal/types"
	"github.com/rs/zerolog"
)

type routeClass int

const (
	// classAlways frames are accepted in every open state.
	classAlways routeClass = iota
	classUnauthenticated
	classAuthenticated
	// classServerOnly frames are never valid from a client.
	classServerOnly
)

type handlerFunc func(c *Connection, f InboundFrame) error

type route struct {
	class  routeClass
	handle handlerFunc
}

// detailedError carries error frame details alongside a taxonomy error.
type detailedError struct {
	err     error
	details any
}

func (e *detailedError) Error() string {
	return e.err.Error()
}

func (e *detailedError) Unwrap() error {
	return e.err
}

// Router dispatches inbound frames to their handler after checking that the
// connection's state permits the frame type.
type Router struct {
	log          zerolog.Logger
	verifier     auth.TokenVerifier
	orchestrator *Orchestrator
	fanout       *Fanout
	history      *History
	stats        stats.StatsProvider
	routes       map[FrameType]route
}

func NewRouter(logger zerolog.Logger, verifier auth.TokenVerifier, o *Orchestrator, fo *Fanout, h *History, su stats.StatsProvider) *Router {
	rt := &Router{
		log:          logger,
		verifier:     verifier,
		orchestrator: o,
		fanout:       fo,
		history:      h,
		stats:        su,
	}

	rt.routes = map[FrameType]route{
		TypePing:            {classAlways, rt.handlePing},
		TypePong:            {classAlways, rt.handlePong},
		TypeAuth:            {classUnauthenticated, rt.handleAuth},
		TypeMessageSend:     {classAuthenticated, rt.handleMessageSend},
		TypeTypingStart:     {classAuthenticated, rt.handleTyping},
		TypeTypingStop:      {classAuthenticated, rt.handleTyping},
		TypeMessageComplete: {classAuthenticated, rt.handleClientComplete},
		TypeConnectionReady: {classServerOnly, rt.handleServerOnly},
		TypeAuthSuccess:     {classServerOnly, rt.handleServerOnly},
		TypeMessageChunk:    {classServerOnly, rt.handleServerOnly},
		TypeEmotionUpdate:   {classServerOnly, rt.handleServerOnly},
		TypeError:           {classServerOnly, rt.handleServerOnly},
	}

	return rt
}

func (rt *Router) dispatch(c *Connection, raw []byte) {
	f, err := parseFrame(raw)
	if err != nil {
		c.log.Debug().Err(err).Msg("unparseable frame")
		rt.reject(c, err, "")
		return
	}

	if f.Type != TypePing && f.Type != TypePong && c.limiter != nil && !c.limiter.Allow() {
		rt.reject(c, ErrRateLimited, f.CorrelationId)
		return
	}

	r, ok := rt.routes[f.Type]
	if !ok {
		rt.reject(c, fmt.Errorf("%w: %q", ErrUnknownMessageType, f.Type), f.CorrelationId)
		return
	}

	if err := rt.authorize(c.currentState(), r.class); err != nil {
		if err == errConnectionClosed {
			return
		}
		rt.reject(c, err, f.CorrelationId)
		return
	}

	if err := r.handle(c, f); err != nil {
		rt.reject(c, err, f.CorrelationId)
	}
}

func (rt *Router) authorize(state connState, class routeClass) error {
	if state == stateClosed {
		return errConnectionClosed
	}

	switch class {
	case classUnauthenticated:
		if state == stateAuthenticated {
			return ErrAlreadyAuthenticated
		}
	case classAuthenticated:
		if state != stateAuthenticated {
			return ErrNotAuthenticated
		}
	}

	return nil
}

// reject reports err to the client and closes the connection when err is
// fatal.
func (rt *Router) reject(c *Connection, err error, correlationId string) {
	var details any
	var de *detailedError
	if errors.As(err, &de) {
		details = de.details
	}

	c.queueFrame(ErrFrame(err, correlationId, details))
	if fatal(err) {
		rt.log.Info().Str("conn", c.id).Str("code", CodeFor(err)).Msg("closing connection")
		c.close(websocket.ClosePolicyViolation, CodeFor(err))
	}
}

func (rt *Router) handlePing(c *Connection, f InboundFrame) error {
	c.queueFrame(PongFrame(f.CorrelationId))
	return nil
}

func (rt *Router) handlePong(c *Connection, _ InboundFrame) error {
	c.markAlive()
	return nil
}

func (rt *Router) handleAuth(c *Connection, f InboundFrame) error {
	var data AuthData
	if err := decodeData(f, &data); err != nil || data.Token == "" {
		return &detailedError{err: ErrAuthFailed, details: map[string]string{"kind": "malformed"}}
	}

	claims, err := rt.verifier.Verify(data.Token)
	if err != nil {
		c.log.Info().Err(err).Msg("token rejected")
		return &detailedError{err: ErrAuthFailed, details: map[string]string{"kind": auth.FailureKind(err)}}
	}

	if err := c.authenticate(claims); err != nil {
		if err == errConnectionClosed {
			return nil
		}
		return err
	}

	rt.stats.Incr(NumAuthenticatedConnections)
	c.log.Info().Str("subject", claims.SubjectId).Str("room", claims.RoomId).Msg("authenticated")
	c.queueFrame(AuthSuccessFrame(c.id, claims.SubjectId, claims.RoomId, f.CorrelationId))
	return nil
}

func (rt *Router) handleMessageSend(c *Connection, f InboundFrame) error {
	var data SendData
	if err := decodeData(f, &data); err != nil {
		return err
	}
	if strings.TrimSpace(data.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}

	return rt.orchestrator.Submit(c, data.Content, f.CorrelationId)
}

func (rt *Router) handleTyping(c *Connection, f InboundFrame) error {
	rt.fanout.Broadcast(c.RoomId(), TypingFrame(f.Type, c.SubjectId()), c)
	return nil
}

// handleClientComplete relays a message the client already finalized to the
// rest of the room without generating a response.
func (rt *Router) handleClientComplete(c *Connection, f InboundFrame) error {
	var data CompleteData
	if err := decodeData(f, &data); err != nil {
		return err
	}
	if strings.TrimSpace(data.Message.Content) == "" {
		return fmt.Errorf("%w: message content is required", ErrInvalidMessage)
	}

	roomId := c.RoomId()
	msg := types.Message{
		Id:        uuid.NewString(),
		RoomId:    roomId,
		Role:      types.RoleUser,
		Content:   data.Message.Content,
		Timestamp: types.Now(),
	}

	rt.history.Append(roomId, msg)
	c.queueFrame(CompleteFrame(msg, f.CorrelationId))
	rt.fanout.Broadcast(roomId, CompleteFrame(msg, ""), c)
	return nil
}

func (rt *Router) handleServerOnly(_ *Connection, f InboundFrame) error {
	return fmt.Errorf("%w: %s frames are sent by the server only", ErrInvalidMessage, f.Type)
}
