package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatstream/internal/config"
	"github.com/npezzotti/go-chatstream/internal/server"
	"github.com/npezzotti/go-chatstream/internal/stats"
	"github.com/rs/zerolog"
)

type ChatStreamApp struct {
	log            zerolog.Logger
	cs             *server.ChatServer
	stats          *stats.StatsUpdater
	srv            *http.Server
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewChatStreamApp(logger zerolog.Logger, cs *server.ChatServer, su *stats.StatsUpdater, cfg *config.Config) *ChatStreamApp {
	s := &ChatStreamApp{
		log:            logger,
		cs:             cs,
		stats:          su,
		allowedOrigins: cfg.AllowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get(cfg.Path, s.serveWs)
	r.Get("/healthz", s.healthz)
	r.Get("/debug/vars", su.ExpvarHandler)
	r.Method(http.MethodGet, "/metrics", su.MetricsHandler())

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(r)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: h,
	}

	return s
}

// checkOrigin allows requests without an Origin header and those from an
// allowed origin.
func (s *ChatStreamApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *ChatStreamApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *ChatStreamApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *ChatStreamApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
