package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by Start when the platform refuses
	// access to the microphone. The pipeline never retries on its own.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrAlreadyStarted is returned by Start while a capture is running
	ErrAlreadyStarted = errors.New("capture already started")
)

// Source is a live mono input graph. Open acquires the device and returns
// the frames its audio goroutine produces, as float samples in [-1,1]. The
// channel is closed when the source ends. Frames are never modified after
// they are sent.
type Source interface {
	Open(ctx context.Context, sampleRate int) (<-chan []float32, error)
	Close() error
}

// Ticker drives the flush cadence.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}
