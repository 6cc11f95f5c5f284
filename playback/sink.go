package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink is the output side of the audio graph. Render is only ever called
// from the processor goroutine.
type Sink interface {
	Open(sampleRate int) error
	Render(samples []float32) error
	Close() error
}

// Ticker paces the processor
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// SoxSink streams float32 samples to the default output device via sox
type SoxSink struct {
	// Command is the sox binary, "sox" when empty
	Command string
	Logger  *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool

	scratch []byte
}

// Open starts the sox player
func (s *SoxSink) Open(sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return errors.New("sox player already open")
	}

	command := s.Command
	if command == "" {
		command = "sox"
	}
	cmd := exec.Command(command,
		"-q",
		"-t", "raw",
		"-r", strconv.Itoa(sampleRate),
		"-b", "32",
		"-c", "1",
		"-e", "floating-point",
		"-L",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("sox stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sox start (is sox installed?): %w", err)
	}

	s.cmd, s.stdin, s.closed = cmd, stdin, false
	if s.Logger != nil {
		s.Logger.Info("🔊 sox player started", zap.Int("sample_rate", sampleRate))
	}
	return nil
}

// Render writes one period of samples
func (s *SoxSink) Render(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.stdin == nil {
		return nil
	}

	if cap(s.scratch) < len(samples)*4 {
		s.scratch = make([]byte, len(samples)*4)
	}
	buf := s.scratch[:len(samples)*4]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := s.stdin.Write(buf)
	return err
}

// Close stops the player. It is safe to call more than once.
func (s *SoxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cmd == nil {
		return nil
	}
	s.closed = true
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd, s.stdin = nil, nil
	return nil
}
