package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatstream/internal/server"
)

const closeWait = time.Second

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *ChatStreamApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *ChatStreamApp) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: s.cs.Count(),
	})
}

func (s *ChatStreamApp) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", requestId(r)).Msg("error upgrading connection")
		return
	}

	c, err := s.cs.Accept(conn)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, server.ErrCapacityExceeded) {
			code = websocket.CloseTryAgainLater
		}

		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(closeWait))
		conn.Close()
		return
	}

	s.log.Debug().Str("conn", c.ID()).Str("remote", r.RemoteAddr).Str("request_id", requestId(r)).Msg("websocket opened")
	go c.Write()
	go c.Read()
}
