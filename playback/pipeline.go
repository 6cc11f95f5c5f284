// Package playback renders agent audio in order, with an interrupt that
// silences everything queued within one callback period.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/pcm"
)

const (
	// DefaultPeriod is the processor callback interval
	DefaultPeriod = 20 * time.Millisecond
	// DefaultQueueSize bounds commands waiting for the processor
	DefaultQueueSize = 256
)

// ErrNotStarted is returned by Enqueue when the pipeline is not running
var ErrNotStarted = errors.New("playback not started")

// Stats is a snapshot of processor counters
type Stats struct {
	RenderedSamples int64
	// Underruns counts periods in which the queue ran dry while audio was playing
	Underruns  int64
	Interrupts int64
	Dropped    int64
	Queued     int64
}

type commandKind int

const (
	cmdEnqueue commandKind = iota
	cmdInterrupt
)

type command struct {
	kind    commandKind
	samples []float32
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithPeriod overrides the 20 ms render period
func WithPeriod(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.period = d
		}
	}
}

// WithSampleRate overrides the 24 kHz output rate
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithQueueSize sets the command queue capacity
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithTicker replaces the wall-clock render ticker
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

// Pipeline owns the output sink and the processor goroutine. The sample
// FIFO lives only on the processor; other goroutines reach it through an
// ordered command channel.
type Pipeline struct {
	sink       Sink
	sampleRate int
	period     time.Duration
	queueSize  int
	newTicker  TickerFunc
	logger     *zap.Logger

	lifecycle sync.Mutex

	mu      sync.RWMutex
	running bool
	cmds    chan command
	stop    chan struct{}
	done    chan struct{}

	rendered   atomic.Int64
	underruns  atomic.Int64
	interrupts atomic.Int64
	dropped    atomic.Int64
	queued     atomic.Int64
}

// New creates a playback pipeline rendering to sink
func New(sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:       sink,
		sampleRate: pcm.PlaybackSampleRate,
		period:     DefaultPeriod,
		queueSize:  DefaultQueueSize,
		newTicker:  newTimeTicker,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start opens the sink and launches the processor. Starting a running
// pipeline is a no-op.
func (p *Pipeline) Start() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.Running() {
		return nil
	}
	if err := p.sink.Open(p.sampleRate); err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}

	cmds := make(chan command, p.queueSize)
	stop := make(chan struct{})
	done := make(chan struct{})

	p.mu.Lock()
	p.cmds, p.stop, p.done = cmds, stop, done
	p.running = true
	p.mu.Unlock()

	go p.process(cmds, p.newTicker(p.period), stop, done)

	p.logger.Info("🔊 playback started",
		zap.Int("sample_rate", p.sampleRate),
		zap.Duration("period", p.period),
	)
	return nil
}

// Running reports whether the processor is active
func (p *Pipeline) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Enqueue decodes a base64 16-bit PCM chunk and queues it behind whatever
// is already playing. It never blocks; a full queue drops the chunk.
func (p *Pipeline) Enqueue(data string) error {
	raw, err := pcm.Decode(data)
	if err != nil {
		return err
	}
	samples := pcm.Int16ToFloat32(pcm.BytesToInt16(raw))
	if len(samples) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrNotStarted
	}
	select {
	case p.cmds <- command{kind: cmdEnqueue, samples: samples}:
	default:
		p.dropped.Add(1)
		p.logger.Warn("⚠️ playback queue full, dropping chunk", zap.Int("samples", len(samples)))
	}
	return nil
}

// Interrupt discards all queued audio before the next render
func (p *Pipeline) Interrupt() {
	p.mu.RLock()
	running, cmds, stop := p.running, p.cmds, p.stop
	p.mu.RUnlock()

	if !running {
		return
	}
	select {
	case cmds <- command{kind: cmdInterrupt}:
	case <-stop:
	}
}

// Stop halts the processor and closes the sink. It is idempotent.
func (p *Pipeline) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done

	if err := p.sink.Close(); err != nil {
		return fmt.Errorf("failed to close audio output: %w", err)
	}
	p.logger.Info("🔊 playback stopped", zap.Any("stats", p.Stats()))
	return nil
}

// Stats returns the current counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		RenderedSamples: p.rendered.Load(),
		Underruns:       p.underruns.Load(),
		Interrupts:      p.interrupts.Load(),
		Dropped:         p.dropped.Load(),
		Queued:          p.queued.Load(),
	}
}

// fifo is the processor-owned sample queue
type fifo struct {
	chunks [][]float32
	offset int
	size   int
}

func (f *fifo) push(samples []float32) {
	f.chunks = append(f.chunks, samples)
	f.size += len(samples)
}

func (f *fifo) clear() {
	f.chunks = nil
	f.offset = 0
	f.size = 0
}

// take moves up to n samples into out, chunk after chunk
func (f *fifo) take(out []float32) int {
	written := 0
	for written < len(out) && len(f.chunks) > 0 {
		head := f.chunks[0][f.offset:]
		n := copy(out[written:], head)
		written += n
		f.offset += n
		if f.offset == len(f.chunks[0]) {
			f.chunks[0] = nil
			f.chunks = f.chunks[1:]
			f.offset = 0
		}
	}
	f.size -= written
	return written
}

func (p *Pipeline) process(cmds <-chan command, ticker Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	periodSamples := int(int64(p.sampleRate) * int64(p.period) / int64(time.Second))
	if periodSamples <= 0 {
		periodSamples = 1
	}
	out := make([]float32, periodSamples)

	var queue fifo
	playing := false

	for {
		select {
		case <-stop:
			p.queued.Store(0)
			return

		case <-ticker.C():
			for drained := false; !drained; {
				select {
				case c := <-cmds:
					switch c.kind {
					case cmdEnqueue:
						queue.push(c.samples)
					case cmdInterrupt:
						queue.clear()
						playing = false
						p.interrupts.Add(1)
					}
				default:
					drained = true
				}
			}

			n := queue.take(out)
			p.queued.Store(int64(queue.size))

			if n < periodSamples && playing {
				p.underruns.Add(1)
			}
			if n == 0 {
				playing = false
				continue
			}
			playing = queue.size > 0

			if err := p.sink.Render(out[:n]); err != nil {
				p.logger.Warn("⚠️ audio render failed", zap.Error(err))
			}
			p.rendered.Add(int64(n))
		}
	}
}
