package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/room4-2/ConverseLive/pcm"
)

// DefaultEchoTurnGap is the input silence that ends an echoed audio turn
const DefaultEchoTurnGap = 500 * time.Millisecond

var errAgentClosed = errors.New("agent is closed")

// EchoAgent answers without any external service. Text comes back word by
// word; audio comes back resampled to the playback rate, and the turn ends
// once the caller stops sending audio.
type EchoAgent struct {
	TurnGap time.Duration

	mu        sync.Mutex
	cb        Callbacks
	inbox     chan func()
	closed    bool
	audioTurn bool
	gapTimer  *time.Timer
}

// NewEchoAgent returns an agent that echoes its input
func NewEchoAgent() *EchoAgent {
	return &EchoAgent{
		TurnGap: DefaultEchoTurnGap,
		inbox:   make(chan func(), 64),
	}
}

// EchoFactory is an AgentFactory for EchoAgent
func EchoFactory(context.Context, AgentRequest) (Agent, error) {
	return NewEchoAgent(), nil
}

func (a *EchoAgent) Start(ctx context.Context, cb Callbacks) {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fn, ok := <-a.inbox:
				if !ok {
					return
				}
				fn()
			}
		}
	}()
}

func (a *EchoAgent) post(fn func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errAgentClosed
	}
	select {
	case a.inbox <- fn:
		return nil
	default:
		return errors.New("agent is busy")
	}
}

func (a *EchoAgent) SendText(text string) error {
	return a.post(func() {
		a.mu.Lock()
		cb := a.cb
		interrupted := a.audioTurn
		a.audioTurn = false
		if a.gapTimer != nil {
			a.gapTimer.Stop()
			a.gapTimer = nil
		}
		a.mu.Unlock()

		if interrupted {
			call0(cb.OnInterrupted)
			call0(cb.OnTurnComplete)
		}

		words := strings.Fields(text)
		for i, w := range words {
			if i < len(words)-1 {
				w += " "
			}
			call1(cb.OnText, w)
		}
		call0(cb.OnTurnComplete)
	})
}

func (a *EchoAgent) SendAudio(data []byte) error {
	return a.post(func() {
		samples := pcm.Resample(pcm.BytesToInt16(data), pcm.CaptureSampleRate, pcm.PlaybackSampleRate)

		a.mu.Lock()
		cb := a.cb
		a.audioTurn = true
		if a.gapTimer != nil {
			a.gapTimer.Stop()
		}
		a.gapTimer = time.AfterFunc(a.turnGap(), a.endAudioTurn)
		a.mu.Unlock()

		call1(cb.OnAudio, pcm.Encode(pcm.Int16ToBytes(samples)))
	})
}

func (a *EchoAgent) endAudioTurn() {
	_ = a.post(func() {
		a.mu.Lock()
		cb := a.cb
		open := a.audioTurn
		a.audioTurn = false
		a.gapTimer = nil
		a.mu.Unlock()

		if open {
			call0(cb.OnTurnComplete)
		}
	})
}

func (a *EchoAgent) turnGap() time.Duration {
	if a.TurnGap <= 0 {
		return DefaultEchoTurnGap
	}
	return a.TurnGap
}

func (a *EchoAgent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.gapTimer != nil {
		a.gapTimer.Stop()
	}
	close(a.inbox)
	a.mu.Unlock()
	return nil
}

func call0(fn func()) {
	if fn != nil {
		fn()
	}
}

func call1[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}
