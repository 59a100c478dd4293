package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server streams a user's fill events over a websocket. It is the one
// outward-facing surface of the core; everything else is consumed through
// interfaces.
type Server struct {
	hub    *Hub
	server *http.Server
	logger *zap.Logger
}

// NewServer creates a websocket server for the hub.
func NewServer(hub *Hub, port int, logger *zap.Logger) *Server {
	s := &Server{
		hub:    hub,
		logger: logger.Named("notifier"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/fills", s.fillsHandler)
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the websocket listener in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting fill-event websocket server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("Websocket server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping fill-event websocket server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) fillsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 32)
	if err != nil {
		http.Error(w, "missing or invalid user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := s.hub.Subscribe(uint(userID), 100)
	defer unsubscribe()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			s.logger.Debug("Websocket write failed, dropping subscriber",
				zap.Uint64("user_id", userID), zap.Error(err))
			return
		}
	}
}
