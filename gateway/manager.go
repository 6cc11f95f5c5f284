package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/config"
	"github.com/room4-2/ConverseLive/history"
	"github.com/room4-2/ConverseLive/logging"
)

// ErrTooManySessions is returned when MaxSessions is reached
var ErrTooManySessions = errors.New("maximum sessions reached")

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	factory  AgentFactory
	history  history.Store
	logger   *zap.Logger
}

// NewManager creates a session manager. Redis bookkeeping is used when the
// server answers, and skipped otherwise.
func NewManager(cfg *config.Config, factory AgentFactory, store history.Store, logger *zap.Logger) *Manager {
	logger = logging.OrNop(logger)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := history.RedisOptions(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			logger.Warn("⚠️ invalid redis url, session bookkeeping disabled", zap.Error(err))
		} else {
			redisClient = connectRedis(opts, logger)
		}
	}

	return &Manager{
		sessions: make(map[string]*Session),
		redis:    redisClient,
		config:   cfg,
		factory:  factory,
		history:  store,
		logger:   logger,
	}
}

// connectRedis returns nil when the server does not answer a ping
func connectRedis(opts *redis.Options, logger *zap.Logger) *redis.Client {
	// Try to connect to Redis, but don't fail if unavailable
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("⚠️ redis unavailable, session bookkeeping disabled", zap.Error(err))
		client.Close()
		return nil
	}
	return client
}

func newMessageID() string {
	return uuid.New().String()
}

// CreateSession creates the agent and session for a new client socket
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn, userID string, audio bool) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	sessionID := uuid.New().String()

	agent, err := sm.factory(ctx, AgentRequest{SessionID: sessionID, UserID: userID, Audio: audio})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	var recorder *history.Recorder
	if sm.history != nil {
		recorder = history.NewRecorder(sm.history, userID, 0, sm.logger)
	}

	session := NewSession(sessionID, userID, audio, clientConn, agent, SessionOptions{
		KeepAlive: sm.config.KeepAlivePeriod,
		Recorder:  recorder,
		Logger:    sm.logger,
	})

	sm.storeSession(ctx, session)
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, session *Session) {
	sm.sessions[session.ID] = session

	if sm.redis != nil {
		sm.redis.HSet(ctx, "session:"+session.ID, map[string]interface{}{
			"user_id":       session.UserID,
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity().Format(time.RFC3339),
			"status":        "active",
			"is_audio":      session.Audio,
		})
		sm.redis.SAdd(ctx, "active_sessions", session.ID)
		sm.redis.Expire(ctx, "session:"+session.ID, sm.config.SessionTimeout)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	delete(sm.sessions, sessionID)
	sm.forget(ctx, sessionID)

	return nil
}

func (sm *Manager) forget(ctx context.Context, sessionID string) {
	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, "active_sessions", sessionID)
	}
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			session.Close()
			delete(sm.sessions, id)
			sm.forget(ctx, id)
			removed++
		}
	}
	if removed > 0 {
		sm.logger.Info("🧹 removed inactive sessions", zap.Int("count", removed))
	}
	return removed
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.Close()
		delete(sm.sessions, id)
		sm.forget(context.Background(), id)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
