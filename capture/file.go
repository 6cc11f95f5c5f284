package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/pcm"
)

// FileSource replays a 16-bit mono PCM or WAV file as if it were a
// microphone, paced at real time.
type FileSource struct {
	Path         string
	FrameSamples int
	// Unpaced emits frames as fast as the consumer reads them
	Unpaced bool
	Logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// LoadAudioFile returns the raw PCM bytes of a WAV or headerless PCM file
func LoadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Standard WAV files carry a 44 byte RIFF header.
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		return data[44:], nil
	}
	return data, nil
}

// Open loads the file and starts emitting frames
func (f *FileSource) Open(ctx context.Context, sampleRate int) (<-chan []float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return nil, ErrAlreadyStarted
	}

	data, err := LoadAudioFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	n := f.FrameSamples
	if n <= 0 {
		n = DefaultFrameSamples
	}
	samples := pcm.Int16ToFloat32(pcm.BytesToInt16(data))

	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})

	frames := make(chan []float32)
	go f.emit(runCtx, samples, n, sampleRate, frames, f.done)

	if f.Logger != nil {
		f.Logger.Info("📁 replaying audio file",
			zap.String("path", f.Path),
			zap.Duration("audio", pcm.Duration(len(data), sampleRate)),
		)
	}
	return frames, nil
}

func (f *FileSource) emit(ctx context.Context, samples []float32, n, sampleRate int, frames chan<- []float32, done chan struct{}) {
	defer close(done)
	defer close(frames)

	var tick <-chan time.Time
	if !f.Unpaced && sampleRate > 0 {
		ticker := time.NewTicker(time.Duration(n) * time.Second / time.Duration(sampleRate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; i < len(samples); i += n {
		end := min(i+n, len(samples))
		frame := make([]float32, end-i)
		copy(frame, samples[i:end])

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			}
		}

		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the replay
func (f *FileSource) Close() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
