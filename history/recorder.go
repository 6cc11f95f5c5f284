package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/chat"
)

const (
	DefaultRecorderQueue = 128
	appendTimeout        = 5 * time.Second
)

// Recorder persists messages for one session on its own goroutine, so
// callers on the event loop never wait on storage.
type Recorder struct {
	store     Store
	sessionID string
	logger    *zap.Logger

	queue chan chat.Message
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewRecorder starts a recorder writing to store under sessionID
func NewRecorder(store Store, sessionID string, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultRecorderQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:     store,
		sessionID: sessionID,
		logger:    logger,
		queue:     make(chan chat.Message, queueSize),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues m. A full queue drops it.
func (r *Recorder) Record(m chat.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}
	select {
	case r.queue <- m:
	default:
		r.dropped.Add(1)
		r.logger.Warn("⚠️ history queue full, dropping message", zap.String("message", m.ID))
	}
}

// Dropped counts messages lost to a full queue
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close writes out everything queued and stops the recorder
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	for m := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := r.store.Append(ctx, r.sessionID, m); err != nil {
			r.logger.Error("❌ failed to persist message",
				zap.String("message", m.ID),
				zap.Error(err),
			)
		}
		cancel()
	}
}
