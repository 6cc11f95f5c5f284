// Package session ties one conversation together on the client side: a
// transport, the turn reducer, the audio pipelines and an optional history
// recorder. Nothing here is global; a process may run many sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/capture"
	"github.com/room4-2/ConverseLive/chat"
	"github.com/room4-2/ConverseLive/history"
	"github.com/room4-2/ConverseLive/logging"
	"github.com/room4-2/ConverseLive/messages"
	"github.com/room4-2/ConverseLive/playback"
	"github.com/room4-2/ConverseLive/transport"
)

// Mode selects how the agent answers
type Mode string

const (
	ModeText  Mode = "text"
	ModeAudio Mode = "audio"
)

var (
	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("session is closed")
	// ErrAlreadyOpen is returned by a second Open
	ErrAlreadyOpen = errors.New("session is already open")
	// ErrNoMicrophone is returned by StartMic without a capture source
	ErrNoMicrophone = errors.New("no capture source configured")
	// ErrTextMode is returned by StartMic outside audio mode
	ErrTextMode = errors.New("microphone requires audio mode")
	// ErrInvalidMode rejects a mode other than text or audio
	ErrInvalidMode = errors.New("invalid mode")
	// ErrNoHistory is returned by History without a store
	ErrNoHistory = errors.New("no history store configured")
)

// Config describes one client session
type Config struct {
	// ID names the conversation in the history store; a uuid when empty
	ID     string
	UserID string
	Mode   Mode
	Tokens transport.TokenProvider

	Transport transport.Options

	// Source feeds the microphone; nil disables StartMic
	Source         capture.Source
	CaptureOptions []capture.Option

	// Sink plays agent audio; nil drops it
	Sink            playback.Sink
	PlaybackOptions []playback.Option

	// History persists sealed messages; nil disables recording
	History history.Store

	Logger *zap.Logger
}

// Session owns exactly one transport and everything fed by it
type Session struct {
	ID     string
	UserID string

	tokens    transport.TokenProvider
	transport *transport.Transport
	reducer   *chat.Reducer
	capture   *capture.Pipeline
	playback  *playback.Pipeline
	store     history.Store
	recorder  *history.Recorder
	logger    *zap.Logger

	mu     sync.Mutex
	mode   Mode
	detach []func()
	opened bool
	closed bool
}

// New builds a session. Nothing is started until Open.
func New(cfg Config) (*Session, error) {
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeText
	}
	if cfg.Mode != ModeText && cfg.Mode != ModeAudio {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	logger := logging.OrNop(cfg.Logger).With(zap.String("session", logging.ShortID(cfg.ID)))

	topts := cfg.Transport
	topts.Logger = logger.Named("transport")

	s := &Session{
		ID:        cfg.ID,
		UserID:    cfg.UserID,
		tokens:    cfg.Tokens,
		transport: transport.New(topts),
		store:     cfg.History,
		logger:    logger,
		mode:      cfg.Mode,
	}

	var player chat.Player
	if cfg.Sink != nil {
		opts := append([]playback.Option{playback.WithLogger(logger.Named("playback"))}, cfg.PlaybackOptions...)
		s.playback = playback.New(cfg.Sink, opts...)
		player = s.playback
	}
	s.reducer = chat.NewReducer(player, chat.WithLogger(logger.Named("chat")))

	if cfg.Source != nil {
		opts := append([]capture.Option{capture.WithLogger(logger.Named("capture"))}, cfg.CaptureOptions...)
		s.capture = capture.New(cfg.Source, opts...)
	}

	if cfg.History != nil {
		s.recorder = history.NewRecorder(cfg.History, cfg.ID, history.DefaultRecorderQueue, logger.Named("history"))
	}

	return s, nil
}

// Open starts playback in audio mode, wires the reducer and connects.
// A failed connect is not an error: the transport keeps retrying and
// reports through OnStatus and LastError.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	mode := s.mode
	s.mu.Unlock()

	if mode == ModeAudio {
		if err := s.startPlayback(); err != nil {
			s.mu.Lock()
			s.opened = false
			s.mu.Unlock()
			return fmt.Errorf("start playback: %w", err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.detach = append(s.detach, s.reducer.Attach(s.transport))
	if s.recorder != nil {
		s.detach = append(s.detach, s.reducer.OnSeal(s.recorder.Record))
	}
	s.mu.Unlock()

	s.logger.Info("🔌 opening session", zap.String("user", s.UserID), zap.String("mode", string(mode)))
	s.transport.Connect(ctx, s.target(mode), nil)
	return nil
}

func (s *Session) target(mode Mode) transport.Target {
	return transport.Target{
		UserID: s.UserID,
		Audio:  mode == ModeAudio,
		Tokens: s.tokens,
	}
}

func (s *Session) startPlayback() error {
	if s.playback == nil {
		return nil
	}
	return s.playback.Start()
}

// SendText records the user message then sends it. It reports whether the
// frame was queued on a live socket.
func (s *Session) SendText(text string) bool {
	if text == "" || s.IsClosed() {
		return false
	}
	s.reducer.AddUserMessage(text)
	sent := s.transport.Send(messages.NewTextMessage(text))
	if !sent {
		s.logger.Warn("⚠️ text not sent, transport is not connected")
	}
	return sent
}

// StartMic streams captured audio to the agent
func (s *Session) StartMic(ctx context.Context) error {
	s.mu.Lock()
	closed, mode := s.closed, s.mode
	s.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case s.capture == nil:
		return ErrNoMicrophone
	case mode != ModeAudio:
		return ErrTextMode
	}

	return s.capture.Start(ctx, func(chunk string) {
		if !s.transport.Send(messages.NewAudioMessage(chunk)) {
			s.logger.Debug("audio chunk dropped while disconnected")
		}
	})
}

// StopMic stops capture, flushing what was buffered
func (s *Session) StopMic() error {
	if s.capture == nil {
		return nil
	}
	return s.capture.Stop()
}

// MicOn reports whether capture is running
func (s *Session) MicOn() bool {
	return s.capture != nil && s.capture.Running()
}

// SetMode switches between text and audio replies. The socket is closed
// and reopened with the new is_audio flag.
func (s *Session) SetMode(ctx context.Context, mode Mode) error {
	if mode != ModeText && mode != ModeAudio {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.mode == mode {
		s.mu.Unlock()
		return nil
	}
	s.mode = mode
	opened := s.opened
	s.mu.Unlock()

	s.logger.Info("🔁 switching mode", zap.String("mode", string(mode)))

	if mode == ModeAudio {
		if err := s.startPlayback(); err != nil {
			return err
		}
	} else {
		if err := s.StopMic(); err != nil {
			s.logger.Warn("⚠️ failed to stop microphone", zap.Error(err))
		}
		if s.playback != nil {
			s.playback.Interrupt()
			if err := s.playback.Stop(); err != nil {
				s.logger.Warn("⚠️ failed to stop playback", zap.Error(err))
			}
		}
	}

	if opened {
		s.transport.ReconnectTo(ctx, s.target(mode))
	}
	return nil
}

// Mode returns the current reply mode
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// OnStatus subscribes to connection state changes
func (s *Session) OnStatus(handler func(transport.State)) func() {
	return s.transport.AddStatusListener(handler)
}

// OnChange subscribes to conversation updates
func (s *Session) OnChange(handler func(chat.Update)) func() {
	return s.reducer.OnChange(handler)
}

// OnSeal subscribes to messages as they become final
func (s *Session) OnSeal(handler func(chat.Message)) func() {
	return s.reducer.OnSeal(handler)
}

func (s *Session) State() transport.State { return s.transport.State() }
func (s *Session) LastError() error       { return s.transport.LastError() }

// Messages returns the conversation so far
func (s *Session) Messages() []chat.Message { return s.reducer.Messages() }

// Reset clears the conversation shown to the user. Stored history is kept.
func (s *Session) Reset() { s.reducer.Reset() }

// Replying reports whether the agent still owes a reply
func (s *Session) Replying() bool { return s.reducer.Replying() }

// PlaybackStats returns playback counters; zero without a sink
func (s *Session) PlaybackStats() playback.Stats {
	if s.playback == nil {
		return playback.Stats{}
	}
	return s.playback.Stats()
}

// History reads this session's stored messages
func (s *Session) History(ctx context.Context, offset, limit int) ([]chat.Message, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	return s.store.Page(ctx, s.ID, offset, limit)
}

// IsClosed returns whether the session is closed
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the microphone, disconnects (cancelling any pending retry),
// stops playback, detaches listeners and flushes history.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	var errs []error
	if err := s.StopMic(); err != nil {
		errs = append(errs, fmt.Errorf("stop microphone: %w", err))
	}

	s.transport.Disconnect()

	if s.playback != nil {
		if err := s.playback.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playback: %w", err))
		}
	}

	s.transport.Loop().Flush()
	for _, off := range detach {
		off()
	}
	s.transport.Close()

	var dropped int64
	if s.recorder != nil {
		s.recorder.Close()
		dropped = s.recorder.Dropped()
	}

	s.logger.Info("🔌 session closed", zap.Int64("history_dropped", dropped))
	return errors.Join(errs...)
}
