// Package chat folds the inbound wire stream into chat messages and drives
// playback side effects.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/events"
	"github.com/room4-2/ConverseLive/messages"
	"github.com/room4-2/ConverseLive/transport"
)

// Player receives the audio side effects of the stream
type Player interface {
	Enqueue(base64Data string) error
	Interrupt()
}

// Source is the event surface the reducer attaches to
type Source interface {
	AddEventListener(kind transport.EventKind, handler func(transport.Event)) func()
}

// Option configures a Reducer
type Option func(*Reducer)

// WithLogger sets the reducer logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Reducer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithIDGenerator replaces uuid message ids
func WithIDGenerator(f func() string) Option {
	return func(r *Reducer) {
		if f != nil {
			r.newID = f
		}
	}
}

// WithClock replaces time.Now for message timestamps
func WithClock(f func() time.Time) Option {
	return func(r *Reducer) {
		if f != nil {
			r.now = f
		}
	}
}

// Reducer owns the conversation. At most one assistant message is open at
// a time; it is sealed by turn completion or by the connection closing.
type Reducer struct {
	player Player
	logger *zap.Logger
	newID  func() string
	now    func() time.Time

	changes *events.Registry[Update]
	seals   *events.Registry[Message]

	mu       sync.Mutex
	messages []Message
	openID   string
	replying bool
}

// NewReducer creates an empty conversation. player may be nil in text mode.
func NewReducer(player Player, opts ...Option) *Reducer {
	r := &Reducer{
		player: player,
		logger: zap.NewNop(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.changes = events.NewRegistry[Update]("chat", r.logger)
	r.seals = events.NewRegistry[Message]("seal", r.logger)
	return r
}

// OnChange subscribes to conversation updates
func (r *Reducer) OnChange(handler func(Update)) func() {
	return r.changes.Add(handler)
}

// OnSeal subscribes to messages as they become immutable
func (r *Reducer) OnSeal(handler func(Message)) func() {
	return r.seals.Add(handler)
}

// Attach feeds the reducer from src and returns the detach function
func (r *Reducer) Attach(src Source) func() {
	offMessage := src.AddEventListener(transport.EventMessage, func(ev transport.Event) {
		r.Apply(ev.Message)
	})
	offClose := src.AddEventListener(transport.EventClose, func(transport.Event) {
		r.HandleClose()
	})
	return func() {
		offMessage()
		offClose()
	}
}

// Apply folds one inbound message. A frame carrying several signals is
// handled as interrupted, then text or audio, then turn_complete.
func (r *Reducer) Apply(msg messages.WireMessage) {
	if msg.Interrupted {
		r.interrupt()
	}

	switch msg.MimeType {
	case messages.MimeText:
		r.appendText(msg.Data)
	case messages.MimeAudio:
		r.playAudio(msg.Data)
	}

	if msg.TurnComplete {
		r.completeTurn()
	}
}

// AddUserMessage appends a sealed user message
func (r *Reducer) AddUserMessage(text string) Message {
	r.mu.Lock()
	m := Message{
		ID:          r.newID(),
		Role:        RoleUser,
		Text:        text,
		TimestampMs: r.now().UnixMilli(),
	}
	r.messages = append(r.messages, m)
	r.replying = true
	r.mu.Unlock()

	r.changes.Emit(Update{Kind: MessageAdded, Message: m})
	r.seals.Emit(m)
	return m
}

// HandleClose seals the open message as it stands. The next text starts a
// new message.
func (r *Reducer) HandleClose() {
	r.mu.Lock()
	r.replying = false
	sealed, ok := r.sealLocked()
	r.mu.Unlock()

	if ok {
		r.logger.Info("🔌 connection closed mid-turn, sealing partial reply",
			zap.String("message", sealed.ID),
			zap.Int("chars", len(sealed.Text)),
		)
		r.emitSealed(sealed)
	}
}

// Messages returns a copy of the conversation, oldest first
func (r *Reducer) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Open returns the message still accumulating text, if any
func (r *Reducer) Open() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.openIndexLocked(); i >= 0 {
		return r.messages[i], true
	}
	return Message{}, false
}

// Replying reports whether a user message is still waiting for the agent
func (r *Reducer) Replying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replying
}

// Reset drops the whole conversation
func (r *Reducer) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.openID = ""
	r.replying = false
	r.mu.Unlock()

	r.changes.Emit(Update{Kind: ConversationReset})
}

func (r *Reducer) interrupt() {
	if r.player == nil {
		return
	}
	r.player.Interrupt()
	r.logger.Debug("✋ agent interrupted, playback flushed")
}

func (r *Reducer) playAudio(data string) {
	if r.player == nil {
		r.logger.Debug("🔇 no player attached, dropping audio")
		return
	}
	if err := r.player.Enqueue(data); err != nil {
		r.logger.Warn("⚠️ failed to queue audio", zap.Error(err))
	}
}

func (r *Reducer) appendText(text string) {
	r.mu.Lock()
	r.replying = false

	var u Update
	if i := r.openIndexLocked(); i >= 0 {
		r.messages[i].Text += text
		u = Update{Kind: MessageUpdated, Message: r.messages[i]}
	} else {
		m := Message{
			ID:          r.newID(),
			Role:        RoleAssistant,
			Text:        text,
			TimestampMs: r.now().UnixMilli(),
			Partial:     true,
		}
		r.messages = append(r.messages, m)
		r.openID = m.ID
		u = Update{Kind: MessageAdded, Message: m}
	}
	r.mu.Unlock()

	r.changes.Emit(u)
}

func (r *Reducer) completeTurn() {
	r.mu.Lock()
	r.replying = false
	sealed, ok := r.sealLocked()
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("turn_complete with no open message")
		return
	}
	r.emitSealed(sealed)
}

func (r *Reducer) emitSealed(m Message) {
	r.changes.Emit(Update{Kind: MessageSealed, Message: m})
	r.seals.Emit(m)
}

func (r *Reducer) sealLocked() (Message, bool) {
	i := r.openIndexLocked()
	r.openID = ""
	if i < 0 {
		return Message{}, false
	}
	r.messages[i].Partial = false
	return r.messages[i], true
}

// openIndexLocked scans from the end; the open message is almost always last
func (r *Reducer) openIndexLocked() int {
	if r.openID == "" {
		return -1
	}
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].ID == r.openID {
			return i
		}
	}
	return -1
}
