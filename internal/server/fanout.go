package server

import (
	"github.com/rs/zerolog"
)

// Fanout delivers a frame to every member of a room without waiting on any
// of them.
type Fanout struct {
	log      zerolog.Logger
	registry *Registry
}

func NewFanout(logger zerolog.Logger, registry *Registry) *Fanout {
	return &Fanout{
		log:      logger,
		registry: registry,
	}
}

// Broadcast queues f to each authenticated member of roomId except skip and
// returns how many members accepted it. Members with a full queue or that
// are closing are logged and skipped.
func (fo *Fanout) Broadcast(roomId string, f Frame, skip *Connection) int {
	var reached int
	for _, c := range fo.registry.ListByRoom(roomId) {
		if c == skip {
			continue
		}

		if !c.queueFrame(f) {
			fo.log.Warn().
				Str("room", roomId).
				Str("conn", c.id).
				Str("type", string(f.Type)).
				Msg("dropped broadcast frame")
			continue
		}
		reached++
	}

	return reached
}
