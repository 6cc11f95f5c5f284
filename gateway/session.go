package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/chat"
	"github.com/room4-2/ConverseLive/history"
	"github.com/room4-2/ConverseLive/logging"
	"github.com/room4-2/ConverseLive/messages"
	"github.com/room4-2/ConverseLive/pcm"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// Session is one client socket bridged to one agent
type Session struct {
	ID         string
	UserID     string
	Audio      bool
	ClientConn *websocket.Conn
	Agent      Agent
	CreatedAt  time.Time

	recorder  *history.Recorder
	keepAlive time.Duration
	logger    *zap.Logger

	// Use channels for non-blocking writes
	writeChan chan messages.WireMessage

	// reply accumulates the agent's text for the current turn. It is only
	// touched from agent callbacks.
	reply strings.Builder

	mu           sync.RWMutex
	lastActivity time.Time
	closed       bool
	CloseChan    chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

// SessionOptions tunes a Session
type SessionOptions struct {
	KeepAlive time.Duration
	Recorder  *history.Recorder
	Logger    *zap.Logger
}

// NewSession wraps an upgraded client connection
func NewSession(id, userID string, audio bool, clientConn *websocket.Conn, agent Agent, opts SessionOptions) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(512 * 1024) // 512KB max message

	logger := logging.OrNop(opts.Logger).With(
		zap.String("session", logging.ShortID(id)),
		zap.String("user", userID),
	)

	now := time.Now()
	return &Session{
		ID:           id,
		UserID:       userID,
		Audio:        audio,
		ClientConn:   clientConn,
		Agent:        agent,
		CreatedAt:    now,
		recorder:     opts.Recorder,
		keepAlive:    opts.KeepAlive,
		logger:       logger,
		writeChan:    make(chan messages.WireMessage, writeBufferSize),
		lastActivity: now,
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the bidirectional message handling
func (s *Session) Start() {
	go s.writePump()
	s.Agent.Start(s.ctx, s.callbacks())
	go s.handleClientMessages()
	s.logger.Info("✅ session started", zap.Bool("audio", s.Audio))
}

func (s *Session) callbacks() Callbacks {
	return Callbacks{
		OnText: func(text string) {
			s.reply.WriteString(text)
			s.queueMessage(messages.NewTextMessage(text))
		},
		OnAudio: func(base64Data string) {
			s.queueMessage(messages.NewAudioMessage(base64Data))
		},
		OnInterrupted: func() {
			s.logger.Debug("✋ agent interrupted")
			s.queueMessage(messages.NewInterruptedMessage())
		},
		OnTurnComplete: func() {
			s.recordReply()
			s.queueMessage(messages.NewTurnCompleteMessage())
		},
		OnError: func(err error) {
			if s.IsClosed() {
				return
			}
			s.logger.Error("❌ agent error, closing session", zap.Error(err))
			s.Close()
		},
	}
}

func (s *Session) recordReply() {
	text := s.reply.String()
	s.reply.Reset()
	if s.recorder == nil || text == "" {
		return
	}
	s.recorder.Record(chat.Message{
		ID:          newMessageID(),
		Role:        chat.RoleAssistant,
		Text:        text,
		TimestampMs: time.Now().UnixMilli(),
	})
}

// writePump handles all outgoing messages in a single goroutine
func (s *Session) writePump() {
	var ping <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		// Send close message before exiting
		s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		s.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.ClientConn.Close()
	}()

	for {
		select {
		case <-s.CloseChan:
			return

		case <-ping:
			s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case msg := <-s.writeChan:
			frame, err := messages.Encode(msg)
			if err != nil {
				s.logger.Error("❌ failed to encode frame", zap.Error(err))
				continue
			}
			s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.ClientConn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Warn("❌ write failed", zap.Error(err))
				return
			}
		}
	}
}

// queueMessage adds a message to the write queue (non-blocking)
func (s *Session) queueMessage(msg messages.WireMessage) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	select {
	case s.writeChan <- msg:
		s.touch()
	default:
		s.logger.Warn("⚠️ write queue full, dropping frame", zap.String("mime_type", msg.MimeType))
	}
}

func (s *Session) handleClientMessages() {
	defer s.Close()

	if s.keepAlive > 0 {
		s.ClientConn.SetReadDeadline(time.Now().Add(2 * s.keepAlive))
		s.ClientConn.SetPongHandler(func(string) error {
			return s.ClientConn.SetReadDeadline(time.Now().Add(2 * s.keepAlive))
		})
	}

	for {
		_, frame, err := s.ClientConn.ReadMessage()
		if err != nil {
			if !s.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("❌ client read error", zap.Error(err))
			}
			return
		}
		s.touch()

		msg, err := messages.Decode(frame)
		if err != nil {
			s.logger.Warn("⚠️ dropping malformed frame", zap.Error(err))
			continue
		}
		s.processClientMessage(msg)
	}
}

func (s *Session) processClientMessage(msg messages.WireMessage) {
	switch msg.MimeType {
	case messages.MimeText:
		s.logger.Info("📝 user text", zap.Int("chars", len(msg.Data)))
		if s.recorder != nil {
			s.recorder.Record(chat.Message{
				ID:          newMessageID(),
				Role:        chat.RoleUser,
				Text:        msg.Data,
				TimestampMs: time.Now().UnixMilli(),
			})
		}
		if err := s.Agent.SendText(msg.Data); err != nil {
			s.logger.Error("❌ failed to send text to agent", zap.Error(err))
		}

	case messages.MimeAudio:
		audio, err := pcm.Decode(msg.Data)
		if err != nil {
			s.logger.Warn("⚠️ dropping audio frame", zap.Error(err))
			return
		}
		s.logger.Debug("🎤 user audio",
			zap.Int("bytes", len(audio)),
			zap.Duration("audio", pcm.Duration(len(audio), pcm.CaptureSampleRate)),
		)
		if err := s.Agent.SendAudio(audio); err != nil {
			s.logger.Error("❌ failed to send audio to agent", zap.Error(err))
		}

	default:
		s.logger.Debug("ignoring control frame from client")
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns when the session last sent or received a frame
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IsClosed returns whether the session is closed
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close terminates the session and cleans up resources
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	// Signal close (stops writePump, which sends the close frame)
	close(s.CloseChan)

	if s.Agent != nil {
		s.Agent.Close()
	}

	var dropped int64
	if s.recorder != nil {
		s.recorder.Close()
		dropped = s.recorder.Dropped()
	}

	s.logger.Info("🔌 session closed", zap.Int64("history_dropped", dropped))
	return nil
}
