package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatstream/internal/emotion"
	"github.com/npezzotti/go-chatstream/internal/producer"
	"github.com/npezzotti/go-chatstream/internal/stats"
	"github.com/npezzotti/go-chatstream/internal/types"
	"github.com/rs/zerolog"
)

var errEmptyResponse = errors.New("producer returned no text")

type ResponsePhase int

const (
	PhaseIdle ResponsePhase = iota
	PhaseGenerating
	PhaseStreaming
	PhaseFinalizing
	PhaseCancelled
)

func (p ResponsePhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGenerating:
		return "generating"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var phaseTransitions = map[ResponsePhase][]ResponsePhase{
	PhaseIdle:       {PhaseGenerating},
	PhaseGenerating: {PhaseStreaming, PhaseCancelled},
	PhaseStreaming:  {PhaseFinalizing, PhaseCancelled},
	PhaseFinalizing: {PhaseIdle, PhaseCancelled},
}

func canTransition(from, to ResponsePhase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// response tracks the phase of one in-flight reply.
type response struct {
	phase ResponsePhase
	log   zerolog.Logger
}

func (r *response) advance(to ResponsePhase) {
	if !canTransition(r.phase, to) {
		r.log.Error().Stringer("from", r.phase).Stringer("to", to).Msg("invalid response transition")
		return
	}
	r.phase = to
}

// Orchestrator turns a submitted user message into the frame sequence of a
// streamed reply: user ack, typing.start, chunks, emotion.update,
// typing.stop and the assistant message.
type Orchestrator struct {
	log             zerolog.Logger
	producer        producer.Producer
	scorer          emotion.Scorer
	history         *History
	fanout          *Fanout
	stats           stats.StatsProvider
	maxChunkSize    int
	chunkDelay      time.Duration
	responseTimeout time.Duration
	wg              sync.WaitGroup
}

type OrchestratorOpts struct {
	MaxChunkSize    int
	ChunkDelay      time.Duration
	ResponseTimeout time.Duration
}

func NewOrchestrator(logger zerolog.Logger, p producer.Producer, s emotion.Scorer, h *History, fo *Fanout, su stats.StatsProvider, opts OrchestratorOpts) *Orchestrator {
	return &Orchestrator{
		log:             logger,
		producer:        p,
		scorer:          s,
		history:         h,
		fanout:          fo,
		stats:           su,
		maxChunkSize:    opts.MaxChunkSize,
		chunkDelay:      opts.ChunkDelay,
		responseTimeout: opts.ResponseTimeout,
	}
}

// Submit starts a reply to content on c. A connection has at most one reply
// in flight; a second submission fails with ErrResponseInFlight.
func (o *Orchestrator) Submit(c *Connection, content, correlationId string) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrResponseInFlight
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer c.inFlight.Store(false)
		o.respond(c, content, correlationId)
	}()

	return nil
}

// Wait blocks until every in-flight reply has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) respond(c *Connection, content, correlationId string) {
	o.stats.Incr(NumInFlightResponses)
	defer o.stats.Decr(NumInFlightResponses)

	ctx := c.ctx
	roomId := c.RoomId()
	resp := &response{phase: PhaseIdle, log: c.log}

	userMsg := types.Message{
		Id:        uuid.NewString(),
		RoomId:    roomId,
		Role:      types.RoleUser,
		Content:   content,
		Timestamp: types.Now(),
	}
	prior := o.history.Recent(roomId)

	if err := c.sendFrame(ctx, CompleteFrame(userMsg, correlationId)); err != nil {
		return
	}
	o.history.Append(roomId, userMsg)
	o.fanout.Broadcast(roomId, CompleteFrame(userMsg, ""), c)

	resp.advance(PhaseGenerating)
	if err := c.sendFrame(ctx, TypingFrame(TypeTypingStart, "")); err != nil {
		resp.advance(PhaseCancelled)
		return
	}

	text, err := o.generate(ctx, userMsg, prior)
	if err != nil {
		resp.advance(PhaseCancelled)
		if ctx.Err() != nil {
			return
		}
		o.stats.Incr(TotalProducerFailures)
		c.log.Error().Err(err).Msg("producer failed")
		c.sendFrame(ctx, ErrFrame(ErrProducerFailure, correlationId, nil))
		return
	}

	resp.advance(PhaseStreaming)
	assistantId := uuid.NewString()
	var sb strings.Builder
	first := true
	for chunk := range Chunks(text, o.maxChunkSize) {
		if !first {
			if err := pause(ctx, o.chunkDelay); err != nil {
				resp.advance(PhaseCancelled)
				return
			}
		}
		first = false

		if err := c.sendFrame(ctx, ChunkFrame(assistantId, chunk)); err != nil {
			resp.advance(PhaseCancelled)
			return
		}
		sb.WriteString(chunk)
	}

	resp.advance(PhaseFinalizing)
	reply := sb.String()
	state := o.scorer.Score(reply)
	assistantMsg := types.Message{
		Id:        assistantId,
		RoomId:    roomId,
		Role:      types.RoleAssistant,
		Content:   reply,
		Emotion:   &state,
		Timestamp: types.Now(),
	}

	for _, f := range []Frame{
		EmotionFrame(state, assistantId),
		TypingFrame(TypeTypingStop, ""),
		CompleteFrame(assistantMsg, correlationId),
	} {
		if err := c.sendFrame(ctx, f); err != nil {
			resp.advance(PhaseCancelled)
			return
		}
	}

	o.history.Append(roomId, assistantMsg)
	o.fanout.Broadcast(roomId, CompleteFrame(assistantMsg, ""), c)
	o.stats.Incr(TotalResponses)
	resp.advance(PhaseIdle)
}

func (o *Orchestrator) generate(ctx context.Context, msg types.Message, history []types.Message) (string, error) {
	if o.responseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.responseTimeout)
		defer cancel()
	}

	text, err := o.producer.Generate(ctx, msg, history)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", errEmptyResponse
	}

	return text, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
