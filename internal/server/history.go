package server

import (
	"sync"

	"github.com/npezzotti/go-chatstream/internal/types"
)

// History keeps the most recent messages of each room in memory, as context
// for the producer. It does not survive a restart.
type History struct {
	mu    sync.Mutex
	limit int
	rooms map[string][]types.Message
}

func NewHistory(limit int) *History {
	return &History{
		limit: limit,
		rooms: make(map[string][]types.Message),
	}
}

func (h *History) Append(roomId string, msg types.Message) {
	if h.limit <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := append(h.rooms[roomId], msg)
	if len(msgs) > h.limit {
		msgs = append([]types.Message(nil), msgs[len(msgs)-h.limit:]...)
	}
	h.rooms[roomId] = msgs
}

// Recent returns a copy of the retained messages for roomId, oldest first.
func (h *History) Recent(roomId string) []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := h.rooms[roomId]
	if len(msgs) == 0 {
		return nil
	}
	return append([]types.Message(nil), msgs...)
}

func (h *History) Drop(roomId string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, roomId)
}
