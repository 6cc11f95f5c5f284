// Package capture turns a live microphone stream into base64 PCM chunks
// delivered on a fixed cadence, independent of the audio callback rate.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/pcm"
)

const (
	// DefaultFlushInterval bounds the latency added by batching
	DefaultFlushInterval = 200 * time.Millisecond
	// DefaultMaxBufferSize caps audio held between two flushes
	DefaultMaxBufferSize = 1024 * 1024
)

// Option configures a Pipeline
type Option func(*Pipeline)

// WithFlushInterval overrides the 200 ms batching window
func WithFlushInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxBufferSize caps the bytes queued between flushes
func WithMaxBufferSize(n int) Option {
	return func(p *Pipeline) { p.maxBufferSize = n }
}

// WithSampleRate overrides the 16 kHz capture rate
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithTicker replaces the wall-clock flush ticker
func WithTicker(f TickerFunc) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.newTicker = f
		}
	}
}

// WithLogger sets the pipeline logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline batches microphone frames into time-boxed chunks.
type Pipeline struct {
	source        Source
	interval      time.Duration
	sampleRate    int
	maxBufferSize int
	newTicker     TickerFunc
	logger        *zap.Logger

	// lifecycle serialises Start and Stop; the last call wins.
	lifecycle sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a pipeline reading from source
func New(source Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:        source,
		interval:      DefaultFlushInterval,
		sampleRate:    pcm.CaptureSampleRate,
		maxBufferSize: DefaultMaxBufferSize,
		newTicker:     newTimeTicker,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start acquires the microphone and begins delivering chunks to onChunk.
// onChunk runs on the pipeline goroutine and receives at most one call per
// flush interval, never with an empty buffer.
func (p *Pipeline) Start(ctx context.Context, onChunk func(base64Data string)) error {
	if onChunk == nil {
		return errors.New("capture: onChunk is required")
	}

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.running {
		return ErrAlreadyStarted
	}

	frames, err := p.source.Open(ctx, p.sampleRate)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true

	go p.run(frames, p.newTicker(p.interval), onChunk, p.stop, p.done)

	p.logger.Info("🎤 capture started",
		zap.Int("sample_rate", p.sampleRate),
		zap.Duration("flush_interval", p.interval),
	)
	return nil
}

// Stop cancels the flush ticker, flushes whatever is still queued, then
// releases the microphone. It is a no-op when not running.
func (p *Pipeline) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	close(p.stop)
	<-p.done

	if err := p.source.Close(); err != nil {
		return fmt.Errorf("failed to release microphone: %w", err)
	}
	p.logger.Info("🎤 capture stopped")
	return nil
}

// Running reports whether a capture is active
func (p *Pipeline) Running() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.running
}

func (p *Pipeline) run(frames <-chan []float32, ticker Ticker, onChunk func(string), stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	buf := NewBuffer(p.maxBufferSize)

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				p.logger.Debug("🎤 source ended")
				continue
			}
			p.append(buf, frame)

		case <-ticker.C():
			p.flush(buf, onChunk)

		case <-stop:
			// Frames the audio goroutine already posted belong to this capture.
			for drained := false; !drained; {
				select {
				case frame, ok := <-frames:
					if !ok {
						frames = nil
						drained = true
						continue
					}
					p.append(buf, frame)
				default:
					drained = true
				}
			}
			p.flush(buf, onChunk)
			return
		}
	}
}

func (p *Pipeline) append(buf *Buffer, frame []float32) {
	if err := buf.Append(pcm.Int16ToBytes(pcm.Float32ToInt16(frame))); err != nil {
		p.logger.Warn("⚠️ dropping microphone frame",
			zap.Error(err),
			zap.Int("max_bytes", buf.MaxSize()),
		)
	}
}

func (p *Pipeline) flush(buf *Buffer, onChunk func(string)) {
	frameCount := buf.FrameCount()
	data := buf.Flush()
	if len(data) == 0 {
		return
	}

	p.logger.Debug("📤 flushing microphone audio",
		zap.Int("bytes", len(data)),
		zap.Int("frames", frameCount),
		zap.Duration("audio", pcm.Duration(len(data), p.sampleRate)),
	)
	onChunk(pcm.Encode(data))
}
