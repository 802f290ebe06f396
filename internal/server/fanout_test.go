package server

import (
	"testing"
	"time"

	"github.com/npezzotti/go-chatstream/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout_Broadcast(t *testing.T) {
	cs := newTestChatServer(t, nil, nil, nil)
	alice := authenticatedConn(t, cs, "alice", "room-1")
	bob := authenticatedConn(t, cs, "bob", "room-1")
	carol := authenticatedConn(t, cs, "carol", "room-2")
	pending := acceptConn(t, cs)

	n := cs.fanout.Broadcast("room-1", PongFrame("x"), nil)
	assert.Equal(t, 2, n)
	assert.Equal(t, TypePong, nextFrame(t, alice).Type)
	assert.Equal(t, TypePong, nextFrame(t, bob).Type)
	assertNoFrame(t, carol)
	assertNoFrame(t, pending)

	n = cs.fanout.Broadcast("room-1", PongFrame("y"), alice)
	assert.Equal(t, 1, n, "expected the skipped member not to be counted")
	assertNoFrame(t, alice)
	assert.Equal(t, "y", nextFrame(t, bob).CorrelationId)
}

func TestFanout_SlowMember(t *testing.T) {
	cfg := testConfig()
	cfg.MessageQueueSize = 1
	cs := newTestChatServer(t, cfg, nil, nil)
	slow := authenticatedConn(t, cs, "slow", "room-1")
	fast := authenticatedConn(t, cs, "fast", "room-1")
	closed := authenticatedConn(t, cs, "gone", "room-1")

	slow.send <- PongFrame("backlog")

	done := make(chan int, 1)
	go func() {
		done <- cs.fanout.Broadcast("room-1", PongFrame("z"), nil)
	}()

	select {
	case n := <-done:
		assert.Equal(t, 2, n, "expected the full member to be skipped")
	case <-time.After(time.Second):
		t.Fatal("expected broadcast not to wait on a slow member")
	}
	assert.Equal(t, "z", nextFrame(t, fast).CorrelationId)
	assert.Equal(t, "backlog", nextFrame(t, slow).CorrelationId)
	assertNoFrame(t, slow)

	closed.close(1000, "")
	assert.Equal(t, 2, cs.fanout.Broadcast("room-1", PongFrame("w"), nil), "expected closed members to be excluded")
}

func TestFanout_ResponseReachesRoom(t *testing.T) {
	cs := newTestChatServer(t, nil, staticProducer("hello room"), nil)
	alice := authenticatedConn(t, cs, "alice", "room-1")
	bob := authenticatedConn(t, cs, "bob", "room-1")
	carol := authenticatedConn(t, cs, "carol", "room-2")

	dispatchJSON(t, alice, map[string]any{"type": "message.send", "data": map[string]string{"content": "hi all"}})
	frames := collectResponse(t, alice)

	userAck := nextFrame(t, bob)
	require.Equal(t, TypeMessageComplete, userAck.Type)
	assert.Equal(t, frames[0].Data, userAck.Data, "expected members to see the sender's message")
	assert.Empty(t, userAck.CorrelationId, "expected correlation id only on the sender's copy")

	reply := nextFrame(t, bob)
	require.Equal(t, TypeMessageComplete, reply.Type)
	msg := reply.Data.(CompleteData).Message
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, "hello room", msg.Content)

	assertNoFrame(t, bob)
	assertNoFrame(t, carol)
}
