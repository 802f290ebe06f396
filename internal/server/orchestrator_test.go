package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-chatstream/internal/emotion"
	"github.com/npezzotti/go-chatstream/internal/producer"
	"github.com/npezzotti/go-chatstream/internal/stats"
	"github.com/npezzotti/go-chatstream/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticProducer(text string) producer.Producer {
	return producer.Func(func(ctx context.Context, _ types.Message, _ []types.Message) (string, error) {
		return text, nil
	})
}

// collectResponse reads frames until the assistant message.complete or an
// error frame arrives.
func collectResponse(t *testing.T, c *Connection) []Frame {
	t.Helper()

	var frames []Frame
	for {
		f := nextFrame(t, c)
		frames = append(frames, f)
		if f.Type == TypeError {
			return frames
		}
		if data, ok := f.Data.(CompleteData); ok && data.Message.Role == types.RoleAssistant {
			return frames
		}
	}
}

func frameTypesOf(frames []Frame) []FrameType {
	var out []FrameType
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func TestOrchestrator_StreamsResponse(t *testing.T) {
	const reply = "I am so happy to hear that, thank you!"

	cfg := testConfig()
	cfg.MaxChunkSize = 3
	su := stats.NewPermissiveMock()
	cs := newTestChatServer(t, cfg, staticProducer(reply), su)
	c := authenticatedConn(t, cs, "alice", "room-1")

	dispatchJSON(t, c, map[string]any{
		"type":          "message.send",
		"data":          map[string]string{"content": "great news"},
		"correlationId": "req-1",
	})
	frames := collectResponse(t, c)

	assert.Equal(t, []FrameType{
		TypeMessageComplete,
		TypeTypingStart,
		TypeMessageChunk,
		TypeMessageChunk,
		TypeMessageChunk,
		TypeEmotionUpdate,
		TypeTypingStop,
		TypeMessageComplete,
	}, frameTypesOf(frames))

	userMsg := frames[0].Data.(CompleteData).Message
	assert.Equal(t, types.RoleUser, userMsg.Role)
	assert.Equal(t, "great news", userMsg.Content)
	assert.Equal(t, "room-1", userMsg.RoomId)
	assert.Equal(t, "req-1", frames[0].CorrelationId)

	assistant := frames[len(frames)-1]
	assistantMsg := assistant.Data.(CompleteData).Message
	assert.Equal(t, "req-1", assistant.CorrelationId)

	var sb strings.Builder
	for _, f := range frames[2:5] {
		chunk := f.Data.(ChunkData)
		assert.Equal(t, assistantMsg.Id, chunk.MessageId, "expected chunks to reference the assistant message")
		assert.Equal(t, types.ChunkTypeText, chunk.Chunk.Type)
		sb.WriteString(chunk.Chunk.Content)
	}
	assert.Equal(t, reply, sb.String(), "expected chunks to concatenate to the full reply")

	update := frames[5].Data.(EmotionData)
	assert.Equal(t, emotion.NewKeywordScorer().Score(reply).Primary, update.Emotion.Primary)
	assert.Equal(t, assistantMsg.Id, update.MessageId)
	assert.Equal(t, types.RoleAssistant, assistantMsg.Role)
	assert.Equal(t, reply, assistantMsg.Content)
	require.NotNil(t, assistantMsg.Emotion)
	assert.Equal(t, update.Emotion, *assistantMsg.Emotion)

	assert.Eventually(t, func() bool { return !c.inFlight.Load() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.Message{userMsg, assistantMsg}, cs.history.Recent("room-1"))
	su.AssertCalled(t, "Incr", TotalResponses)
}

func TestOrchestrator_UsesHistory(t *testing.T) {
	cs := newTestChatServer(t, nil, nil, nil)
	c := authenticatedConn(t, cs, "alice", "room-1")

	for _, content := range []string{"first", "second"} {
		dispatchJSON(t, c, map[string]any{"type": "message.send", "data": map[string]string{"content": content}})
		collectResponse(t, c)
		require.Eventually(t, func() bool { return !c.inFlight.Load() }, time.Second, 5*time.Millisecond)
	}

	msgs := cs.history.Recent("room-1")
	require.Len(t, msgs, 4)
	assert.Equal(t, "Hi! You said: first", msgs[1].Content)
	assert.Equal(t, "You said: second (that makes 2 messages from you so far)", msgs[3].Content)
}

func TestOrchestrator_ResponseInFlight(t *testing.T) {
	release := make(chan struct{})
	p := producer.Func(func(ctx context.Context, _ types.Message, _ []types.Message) (string, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	cs := newTestChatServer(t, nil, p, nil)
	c := authenticatedConn(t, cs, "alice", "room-1")

	dispatchJSON(t, c, map[string]any{"type": "message.send", "data": map[string]string{"content": "one"}})
	assert.Equal(t, TypeMessageComplete, nextFrame(t, c).Type)
	assert.Equal(t, TypeTypingStart, nextFrame(t, c).Type)

	dispatchJSON(t, c, map[string]any{
		"type":          "message.send",
		"data":          map[string]string{"content": "two"},
		"correlationId": "second",
	})
	f := nextFrame(t, c)
	assert.Equal(t, "RESPONSE_IN_FLIGHT", errorCode(t, f))
	assert.Equal(t, "second", f.CorrelationId)

	close(release)
	frames := collectResponse(t, c)
	assert.Equal(t, TypeMessageComplete, frames[len(frames)-1].Type)
	assert.Eventually(t, func() bool { return !c.inFlight.Load() }, time.Second, 5*time.Millisecond)

	assert.NoError(t, cs.orchestrator.Submit(c, "three", ""), "expected a new response once idle")
	collectResponse(t, c)
}

func TestOrchestrator_ProducerFailure(t *testing.T) {
	tcases := []struct {
		name     string
		producer producer.Producer
	}{
		{
			name: "producer error",
			producer: producer.Func(func(context.Context, types.Message, []types.Message) (string, error) {
				return "", errors.New("model unavailable")
			}),
		},
		{
			name:     "empty text",
			producer: staticProducer("  "),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			su := stats.NewPermissiveMock()
			cs := newTestChatServer(t, nil, tc.producer, su)
			c := authenticatedConn(t, cs, "alice", "room-1")

			dispatchJSON(t, c, map[string]any{
				"type":          "message.send",
				"data":          map[string]string{"content": "hello"},
				"correlationId": "req",
			})
			frames := collectResponse(t, c)

			assert.Equal(t, []FrameType{TypeMessageComplete, TypeTypingStart, TypeError}, frameTypesOf(frames))
			assert.Equal(t, "PRODUCER_FAILURE", errorCode(t, frames[2]))
			assert.Equal(t, "req", frames[2].CorrelationId)
			assert.Eventually(t, func() bool { return !c.inFlight.Load() }, time.Second, 5*time.Millisecond,
				"expected the connection to return to idle")
			assert.Equal(t, stateAuthenticated, c.currentState(), "expected connection to survive")
			su.AssertCalled(t, "Incr", TotalProducerFailures)
		})
	}
}

func TestOrchestrator_ResponseTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ResponseTimeout = 20 * time.Millisecond
	p := producer.Func(func(ctx context.Context, _ types.Message, _ []types.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cs := newTestChatServer(t, cfg, p, nil)
	c := authenticatedConn(t, cs, "alice", "room-1")

	require.NoError(t, cs.orchestrator.Submit(c, "hello", ""))
	frames := collectResponse(t, c)
	assert.Equal(t, "PRODUCER_FAILURE", errorCode(t, frames[len(frames)-1]))
}

func TestOrchestrator_Backpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MessageQueueSize = 2
	cfg.MaxChunkSize = 1
	cs := newTestChatServer(t, cfg, staticProducer("a b c d e f g h"), nil)
	c := authenticatedConn(t, cs, "alice", "room-1")

	require.NoError(t, cs.orchestrator.Submit(c, "hello", ""))

	// nobody drains the queue, so the response stalls on a full queue
	assert.Eventually(t, func() bool { return len(c.send) == cap(c.send) }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, c.inFlight.Load(), "expected the response to wait for queue space")

	c.close(1000, "")

	done := make(chan struct{})
	go func() {
		cs.orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the response to abort when the connection closed")
	}
}

func TestOrchestrator_ChunkDelay(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunkSize = 1
	cfg.ChunkDelay = 15 * time.Millisecond
	cs := newTestChatServer(t, cfg, staticProducer("one two three"), nil)
	c := authenticatedConn(t, cs, "alice", "room-1")

	start := time.Now()
	require.NoError(t, cs.orchestrator.Submit(c, "hello", ""))
	collectResponse(t, c)

	assert.GreaterOrEqual(t, time.Since(start), 2*cfg.ChunkDelay, "expected pacing between chunks")
}

func Test_canTransition(t *testing.T) {
	tcases := []struct {
		from, to ResponsePhase
		ok       bool
	}{
		{PhaseIdle, PhaseGenerating, true},
		{PhaseGenerating, PhaseStreaming, true},
		{PhaseGenerating, PhaseCancelled, true},
		{PhaseStreaming, PhaseFinalizing, true},
		{PhaseStreaming, PhaseCancelled, true},
		{PhaseFinalizing, PhaseIdle, true},
		{PhaseIdle, PhaseStreaming, false},
		{PhaseGenerating, PhaseFinalizing, false},
		{PhaseCancelled, PhaseIdle, false},
		{PhaseCancelled, PhaseGenerating, false},
	}

	for _, tc := range tcases {
		assert.Equal(t, tc.ok, canTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
