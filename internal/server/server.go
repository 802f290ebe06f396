package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatstream/internal/auth"
	"github.com/npezzotti/go-chatstream/internal/config"
	"github.com/npezzotti/go-chatstream/internal/emotion"
	"github.com/npezzotti/go-chatstream/internal/producer"
	"github.com/npezzotti/go-chatstream/internal/stats"
	"github.com/rs/zerolog"
)

const (
	NumActiveConnections        = "NumActiveConnections"
	NumAuthenticatedConnections = "NumAuthenticatedConnections"
	NumInFlightResponses        = "NumInFlightResponses"
	TotalResponses              = "TotalResponses"
	TotalProducerFailures       = "TotalProducerFailures"
	TotalEvictions              = "TotalEvictions"
)

var metrics = []string{
	NumActiveConnections,
	NumAuthenticatedConnections,
	NumInFlightResponses,
	TotalResponses,
	TotalProducerFailures,
	TotalEvictions,
}

type ChatServer struct {
	log          zerolog.Logger
	cfg          *config.Config
	stats        stats.StatsProvider
	registry     *Registry
	history      *History
	fanout       *Fanout
	orchestrator *Orchestrator
	router       *Router
	monitor      *LivenessMonitor
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewChatServer(logger zerolog.Logger, cfg *config.Config, verifier auth.TokenVerifier, p producer.Producer, s emotion.Scorer, su stats.StatsProvider) (*ChatServer, error) {
	if verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if p == nil {
		return nil, errors.New("producer is required")
	}
	if s == nil {
		s = emotion.NewKeywordScorer()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &ChatServer{
		log:      logger,
		cfg:      cfg,
		stats:    su,
		registry: NewRegistry(cfg.MaxConnections),
		history:  NewHistory(cfg.HistoryLimit),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	cs.fanout = NewFanout(logger, cs.registry)
	cs.orchestrator = NewOrchestrator(logger, p, s, cs.history, cs.fanout, su, OrchestratorOpts{
		MaxChunkSize:    cfg.MaxChunkSize,
		ChunkDelay:      cfg.ChunkDelay,
		ResponseTimeout: cfg.ResponseTimeout,
	})
	cs.router = NewRouter(logger, verifier, cs.orchestrator, cs.fanout, cs.history, su)
	cs.monitor = NewLivenessMonitor(logger, cs.registry, cfg.HeartbeatInterval, func(*Connection) {
		su.Incr(TotalEvictions)
	})

	for _, m := range metrics {
		su.RegisterMetric(m)
	}

	return cs, nil
}

// Accept registers conn and starts its authentication deadline. The caller
// runs the returned connection's Read and Write pumps. When the server is at
// capacity nothing is registered and ErrCapacityExceeded is returned.
func (cs *ChatServer) Accept(conn *websocket.Conn) (*Connection, error) {
	return cs.accept(conn)
}

func (cs *ChatServer) accept(conn transport) (*Connection, error) {
	if cs.ctx.Err() != nil {
		return nil, errors.New("server is shutting down")
	}

	c, err := cs.registry.Accept(func(id string) *Connection {
		return newConnection(id, conn, cs)
	})
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			cs.log.Warn().Int("max", cs.cfg.MaxConnections).Msg("rejecting connection, server at capacity")
		}
		return nil, err
	}

	cs.stats.Incr(NumActiveConnections)
	c.begin(cs.cfg.AuthTimeout)
	cs.log.Info().Str("conn", c.id).Msg("connection accepted")

	return c, nil
}

func (cs *ChatServer) unregister(c *Connection, wasAuthenticated bool) {
	if !cs.registry.Remove(c.id) {
		return
	}

	cs.stats.Decr(NumActiveConnections)
	if !wasAuthenticated {
		return
	}

	cs.stats.Decr(NumAuthenticatedConnections)
	if roomId := c.RoomId(); len(cs.registry.ListByRoom(roomId)) == 0 {
		cs.history.Drop(roomId)
	}
}

// Count returns the number of open connections.
func (cs *ChatServer) Count() int {
	return cs.registry.Count()
}

// Run drives the liveness monitor until Shutdown is called.
func (cs *ChatServer) Run() {
	defer close(cs.done)
	cs.monitor.Run(cs.ctx)
}

// Shutdown closes every connection and waits for in-flight replies to stop.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("shutting down chat server")
	cs.cancel()

	for _, c := range cs.registry.snapshot() {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	finished := make(chan struct{})
	go func() {
		<-cs.done
		cs.orchestrator.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}
}
