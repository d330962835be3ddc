package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const tickerPushInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type tickerUpdate struct {
	Type      string  `json:"type"`
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Timestamp int64   `json:"timestamp"`
}

// handleTickerStream pushes ticker snapshots for the configured default
// exchange and symbol until the client disconnects.
func (s *Server) handleTickerStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	gateway, err := s.public.NewPublic(s.streamExchange)
	if err != nil {
		s.logger.Error("Websocket gateway init failed", zap.Error(err))
		return
	}

	// Drain control frames so close messages are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Info("Websocket client connected",
		zap.String("exchange", s.streamExchange),
		zap.String("symbol", s.streamSymbol),
		zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(tickerPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.logger.Info("Websocket client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case <-ticker.C:
			t, err := gateway.FetchTicker(r.Context(), s.streamSymbol)
			if err != nil {
				s.logger.Warn("Websocket ticker fetch failed", zap.Error(err))
				continue
			}
			update := tickerUpdate{
				Type:      "ticker",
				Exchange:  s.streamExchange,
				Symbol:    s.streamSymbol,
				Bid:       t.Bid,
				Ask:       t.Ask,
				Last:      t.Last,
				Timestamp: time.Now().UnixMilli(),
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(update); err != nil {
				s.logger.Info("Websocket write failed, closing", zap.Error(err))
				return
			}
		}
	}
}
