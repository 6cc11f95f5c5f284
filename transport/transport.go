// Package transport keeps one duplex WebSocket session to the agent server
// alive, with a fixed-delay reconnect and typed event fan-out.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/events"
	"github.com/room4-2/ConverseLive/messages"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteQueueSize = 256

	writeTimeout = 10 * time.Second
	readLimit    = 512 * 1024
)

// Options configures a Transport
type Options struct {
	// BaseURL is the agent server root, e.g. ws://localhost:8000
	BaseURL        string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	TokenPlacement TokenPlacement
	WriteQueueSize int
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

// Target is what a connection is opened for
type Target struct {
	UserID string
	Audio  bool
	Tokens TokenProvider
}

// Transport owns at most one live socket at a time. Its methods are safe
// for concurrent use; listeners run on the transport's event loop.
type Transport struct {
	opts   Options
	logger *zap.Logger
	loop   *events.Loop

	status    *events.Registry[State]
	listeners map[EventKind]*events.Registry[Event]

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	target      Target
	wanted      bool
	gen         uint64
	link        *link
	timer       *time.Timer
	timerSeq    uint64
	retries     int
	lastErr     error
	unsubStatus func()
	closed      bool
}

// link is one socket and its pumps
type link struct {
	ws          *websocket.Conn
	writeCh     chan []byte
	stop        chan struct{}
	writerDone  chan struct{}
	done        chan struct{}
	once        sync.Once
	intentional atomic.Bool
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.stop)
		<-l.writerDone
		l.ws.Close()
	})
}

// New creates a disconnected transport
func New(opts Options) *Transport {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.WriteQueueSize <= 0 {
		opts.WriteQueueSize = DefaultWriteQueueSize
	}
	if opts.TokenPlacement == "" {
		opts.TokenPlacement = TokenInQuery
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		opts:   opts,
		logger: logger,
		loop:   events.NewLoop(),
		status: events.NewRegistry[State]("status", logger),
		listeners: map[EventKind]*events.Registry[Event]{
			EventMessage: events.NewRegistry[Event](string(EventMessage), logger),
			EventOpen:    events.NewRegistry[Event](string(EventOpen), logger),
			EventClose:   events.NewRegistry[Event](string(EventClose), logger),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddEventListener subscribes handler to one event kind and returns its
// unsubscribe function.
func (t *Transport) AddEventListener(kind EventKind, handler func(Event)) func() {
	r, ok := t.listeners[kind]
	if !ok || handler == nil {
		return func() {}
	}
	return r.Add(handler)
}

// AddStatusListener subscribes to connection state changes
func (t *Transport) AddStatusListener(handler func(State)) func() {
	if handler == nil {
		return func() {}
	}
	return t.status.Add(handler)
}

// Loop is the event loop listeners run on
func (t *Transport) Loop() *events.Loop {
	return t.loop
}

// State returns the current connection state
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the most recent connection failure, nil after a
// successful open.
func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Retries counts reconnect attempts scheduled since the last open
func (t *Transport) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// Target returns the current connection target
func (t *Transport) Target() Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// Connect opens a socket for target. It returns once the attempt has
// settled; failures are reported through onStatus and LastError and retried
// after the reconnect delay. Connect is a no-op unless disconnected.
func (t *Transport) Connect(ctx context.Context, target Target, onStatus func(State)) {
	t.mu.Lock()
	if t.closed || t.state != Disconnected || t.link != nil {
		t.mu.Unlock()
		return
	}
	t.target = target
	t.wanted = true
	t.cancelTimerLocked()
	if t.unsubStatus != nil {
		t.unsubStatus()
		t.unsubStatus = nil
	}
	if onStatus != nil {
		t.unsubStatus = t.status.Add(onStatus)
	}
	t.mu.Unlock()

	t.dial(ctx)
}

// Reconnect closes the current socket completely, then dials again with
// the same target.
func (t *Transport) Reconnect(ctx context.Context) {
	t.mu.Lock()
	if t.closed || !t.wanted {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.reconnect(ctx, nil)
}

// ReconnectTo is Reconnect with a new target
func (t *Transport) ReconnectTo(ctx context.Context, target Target) {
	t.reconnect(ctx, &target)
}

func (t *Transport) reconnect(ctx context.Context, target *Target) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if target != nil {
		t.target = *target
	}
	t.wanted = true
	t.gen++
	t.cancelTimerLocked()
	l := t.detachLocked()
	t.setStateLocked(Disconnected)
	t.mu.Unlock()

	if l != nil {
		l.shutdown()
		<-l.done
	}
	t.logger.Info("🔄 reconnecting", zap.String("user", t.Target().UserID))
	t.dial(ctx)
}

// Disconnect closes the socket and cancels any pending retry. It is
// idempotent.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.wanted = false
	t.gen++
	t.cancelTimerLocked()
	l := t.detachLocked()
	t.setStateLocked(Disconnected)
	t.mu.Unlock()

	if l != nil {
		l.shutdown()
		<-l.done
		t.logger.Info("🔌 disconnected")
	}
}

// Close disconnects, drops every listener and stops the event loop after
// the events already queued have been delivered.
func (t *Transport) Close() {
	t.Disconnect()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.loop.Post(func() {
		t.status.Clear()
		for _, r := range t.listeners {
			r.Clear()
		}
	})
	t.loop.Close()
}

// Send queues msg on the live socket. It returns false, dropping msg, when
// not connected or when the write queue is full. It never blocks.
func (t *Transport) Send(msg messages.WireMessage) bool {
	t.mu.Lock()
	l := t.link
	connected := t.state == Connected
	t.mu.Unlock()

	if l == nil || !connected {
		t.logger.Debug("📭 not connected, dropping message", zap.String("mime_type", msg.MimeType))
		return false
	}

	frame, err := messages.Encode(msg)
	if err != nil {
		t.logger.Error("❌ failed to encode message", zap.Error(err))
		return false
	}

	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.writeCh <- frame:
		return true
	default:
		t.logger.Warn("⚠️ write queue full, dropping message", zap.String("mime_type", msg.MimeType))
		return false
	}
}

func (t *Transport) dial(ctx context.Context) {
	t.mu.Lock()
	if t.closed || !t.wanted || t.state != Disconnected || t.link != nil {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	target := t.target
	t.setStateLocked(Connecting)
	t.mu.Unlock()

	var token string
	if target.Tokens != nil {
		var err error
		token, err = target.Tokens.Token(ctx)
		if err != nil {
			t.fail(gen, &ConnectionError{Op: "token", Err: err})
			return
		}
	}

	endpoint, err := t.endpoint(target, token)
	if err != nil {
		t.fail(gen, &ConnectionError{Op: "dial", Err: err})
		return
	}
	redacted := redact(endpoint)

	dialer := *t.opts.Dialer
	if token != "" && t.opts.TokenPlacement == TokenInSubprotocol {
		dialer.Subprotocols = []string{token}
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	t.logger.Info("🔌 connecting", zap.String("url", redacted))
	ws, _, err := dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		t.fail(gen, &ConnectionError{Op: "dial", URL: redacted, Err: err})
		return
	}
	ws.SetReadLimit(readLimit)

	l := &link{
		ws:         ws,
		writeCh:    make(chan []byte, t.opts.WriteQueueSize),
		stop:       make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}

	t.mu.Lock()
	if gen != t.gen || !t.wanted || t.closed {
		t.mu.Unlock()
		ws.Close()
		t.logger.Debug("discarding superseded connection")
		return
	}
	t.link = l
	t.retries = 0
	t.lastErr = nil
	t.setStateLocked(Connected)
	t.postLocked(Event{Kind: EventOpen})
	t.mu.Unlock()

	go t.writePump(l)
	go t.readLoop(l)

	t.logger.Info("✅ connected", zap.String("url", redacted))
}

// fail records a failed attempt and schedules the next one
func (t *Transport) fail(gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		return
	}
	t.lastErr = err
	t.setStateLocked(Disconnected)
	t.logger.Warn("❌ connection failed", zap.Error(err))
	t.scheduleReconnectLocked()
}

func (t *Transport) readLoop(l *link) {
	defer close(l.done)

	for {
		_, frame, err := l.ws.ReadMessage()
		if err != nil {
			t.handleClosed(l, err)
			return
		}

		msg, err := messages.Decode(frame)
		if err != nil {
			var perr *messages.ProtocolError
			if errors.As(err, &perr) {
				t.logger.Warn("⚠️ dropping malformed frame", zap.Error(err))
			}
			continue
		}

		// A detached link's close event is already queued; nothing may follow it
		t.mu.Lock()
		if t.link != l || l.intentional.Load() {
			t.mu.Unlock()
			continue
		}
		t.postLocked(Event{Kind: EventMessage, Message: msg})
		t.mu.Unlock()
	}
}

// handleClosed runs on the read goroutine when its socket ends
func (t *Transport) handleClosed(l *link, err error) {
	defer l.shutdown()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.link != l || l.intentional.Load() {
		return
	}
	t.link = nil
	t.lastErr = &ConnectionError{Op: "read", Err: err}
	t.setStateLocked(Disconnected)
	t.postLocked(Event{Kind: EventClose, Code: closeCode(err), Err: err})

	t.logger.Warn("🔌 connection lost", zap.Error(err))
	t.scheduleReconnectLocked()
}

func (t *Transport) writePump(l *link) {
	defer close(l.writerDone)
	defer func() {
		l.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		l.ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-l.stop:
			return
		case frame := <-l.writeCh:
			l.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.logger.Warn("❌ write failed", zap.Error(err))
				l.ws.Close()
				return
			}
		}
	}
}

// detachLocked hands the live link to the caller for shutdown and emits
// its close event.
func (t *Transport) detachLocked() *link {
	l := t.link
	if l == nil {
		return nil
	}
	t.link = nil
	l.intentional.Store(true)
	t.postLocked(Event{Kind: EventClose, Code: websocket.CloseNormalClosure})
	return l
}

func (t *Transport) scheduleReconnectLocked() {
	if !t.wanted || t.closed || t.timer != nil {
		return
	}
	t.retries++
	t.timerSeq++
	seq := t.timerSeq
	delay := t.opts.ReconnectDelay

	t.logger.Info("⏳ reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempt", t.retries),
	)
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if seq != t.timerSeq || t.timer == nil {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()

		t.dial(t.ctx)
	})
}

func (t *Transport) cancelTimerLocked() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
	t.timer = nil
	t.timerSeq++
}

func (t *Transport) setStateLocked(s State) {
	if t.state == s {
		return
	}
	t.state = s
	t.loop.Post(func() { t.status.Emit(s) })
}

func (t *Transport) postLocked(ev Event) {
	reg := t.listeners[ev.Kind]
	t.loop.Post(func() { reg.Emit(ev) })
}

// endpoint builds <base>/ws/<uid>?is_audio=<bool>[&token=<tok>]
func (t *Transport) endpoint(target Target, token string) (string, error) {
	if target.UserID == "" {
		return "", errors.New("user id is required")
	}
	u, err := url.Parse(t.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	base := strings.TrimRight(u.Path, "/")
	u.Path = base + "/ws/" + target.UserID
	u.RawPath = base + "/ws/" + url.PathEscape(target.UserID)
	q := u.Query()
	q.Set("is_audio", strconv.FormatBool(target.Audio))
	if token != "" && t.opts.TokenPlacement == TokenInQuery {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
