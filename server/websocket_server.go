package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/config"
	"github.com/room4-2/ConverseLive/gateway"
	"github.com/room4-2/ConverseLive/logging"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *gateway.Manager
	config         *config.Config
	logger         *zap.Logger
}

func NewServerWebsocket(cfg *config.Config, sessionManager *gateway.Manager, logger *zap.Logger) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		logger:         logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024, // 64KB for audio chunks
			WriteBufferSize: 64 * 1024, // 64KB for audio chunks
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser clients send no Origin
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{uid}", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("🚀 WebSocket server starting", zap.Int("port", s.config.Port))
	s.logger.Info(fmt.Sprintf("📡 WebSocket endpoint: ws://localhost:%d/ws/{user_id}?is_audio=false", s.config.Port))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("🛑 Shutting down server...")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("uid")
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	audio := false
	if v := r.URL.Query().Get("is_audio"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid is_audio", http.StatusBadRequest)
			return
		}
		audio = b
	}

	token, viaSubprotocol := requestToken(r)
	if !s.authorized(token) {
		s.logger.Warn("🔒 rejected connection", zap.String("user", userID))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var header http.Header
	if viaSubprotocol {
		header = http.Header{"Sec-Websocket-Protocol": {token}}
	}

	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	// Create session
	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn, userID, audio)
	if err != nil {
		s.logger.Error("Failed to create session", zap.Error(err))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	// Start session (handles messages in goroutines)
	clientSession.Start()

	// Wait for session to close
	<-clientSession.CloseChan

	// Clean up
	_ = s.sessionManager.RemoveSession(context.Background(), clientSession.ID)
}

// requestToken reads the token from the query string or, failing that,
// from the first offered WebSocket sub-protocol.
func requestToken(r *http.Request) (string, bool) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, false
	}
	if protocols := websocket.Subprotocols(r); len(protocols) > 0 {
		return protocols[0], true
	}
	return "", false
}

func (s *Server) authorized(token string) bool {
	if len(s.config.GatewayTokens) == 0 {
		return true
	}
	for _, allowed := range s.config.GatewayTokens {
		if subtle.ConstantTimeCompare([]byte(allowed), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessionManager.GetActiveSessionCount())
}
