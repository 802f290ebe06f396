package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LivenessMonitor evicts connections that have not acknowledged a probe
// since the previous tick. A connection therefore survives at most two
// intervals after its last acknowledgement.
type LivenessMonitor struct {
	log      zerolog.Logger
	registry *Registry
	interval time.Duration
	onEvict  func(c *Connection)
}

func NewLivenessMonitor(logger zerolog.Logger, registry *Registry, interval time.Duration, onEvict func(c *Connection)) *LivenessMonitor {
	return &LivenessMonitor{
		log:      logger,
		registry: registry,
		interval: interval,
		onEvict:  onEvict,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs a single liveness pass and returns the number of evictions.
func (m *LivenessMonitor) Sweep() int {
	var evicted int
	for _, c := range m.registry.snapshot() {
		if c.currentState() == stateClosed {
			continue
		}

		if !c.swapAlive() {
			m.log.Info().Str("conn", c.id).Msg("evicting unresponsive connection")
			c.terminate()
			if m.onEvict != nil {
				m.onEvict(c)
			}
			evicted++
			continue
		}

		if err := c.probe(); err != nil {
			m.log.Debug().Err(err).Str("conn", c.id).Msg("liveness probe failed")
		}
	}

	return evicted
}
