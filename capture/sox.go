package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// DefaultFrameSamples matches the render quantum of a browser audio worklet
const DefaultFrameSamples = 128

// SoxSource records from the default input device through a sox child
// process streaming little-endian float32 samples on stdout.
type SoxSource struct {
	// Command is the sox binary, "sox" when empty
	Command      string
	FrameSamples int
	Logger       *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stderr  bytes.Buffer
	dropped int
}

func (s *SoxSource) command() string {
	if s.Command == "" {
		return "sox"
	}
	return s.Command
}

func (s *SoxSource) frameSamples() int {
	if s.FrameSamples <= 0 {
		return DefaultFrameSamples
	}
	return s.FrameSamples
}

func (s *SoxSource) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Open starts sox and waits for the first frame. A recorder that exits
// before producing audio is reported as ErrPermissionDenied.
func (s *SoxSource) Open(ctx context.Context, sampleRate int) (<-chan []float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil, ErrAlreadyStarted
	}

	cmd := exec.Command(s.command(),
		"-q",
		"-d",
		"-t", "raw",
		"-r", strconv.Itoa(sampleRate),
		"-b", "32",
		"-c", "1",
		"-e", "floating-point",
		"-L",
		"-",
	)
	s.stderr.Reset()
	cmd.Stderr = &s.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sox stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	frames := make(chan []float32, 64)
	ready := make(chan error, 1)
	go s.pump(stdout, frames, ready)

	select {
	case err := <-ready:
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, s.stderr.String())
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, ctx.Err()
	}

	s.cmd = cmd
	s.logger().Info("🎙️ sox recorder started", zap.Int("sample_rate", sampleRate))
	return frames, nil
}

func (s *SoxSource) pump(r io.Reader, frames chan<- []float32, ready chan<- error) {
	defer close(frames)

	n := s.frameSamples()
	raw := make([]byte, n*4)
	first := true

	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			if first {
				if errors.Is(err, io.ErrUnexpectedEOF) {
					err = io.EOF
				}
				ready <- err
			}
			return
		}

		frame := make([]float32, n)
		for i := range frame {
			frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}

		if first {
			first = false
			ready <- nil
		}

		// The reader never waits on the consumer.
		select {
		case frames <- frame:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
}

// Dropped reports frames discarded because the consumer fell behind
func (s *SoxSource) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the recorder. It is safe to call more than once.
func (s *SoxSource) Close() error {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, exec.ErrNotFound) {
		s.logger().Debug("sox kill", zap.Error(err))
	}
	_ = cmd.Wait()
	s.logger().Info("🎙️ sox recorder stopped", zap.Int("dropped_frames", s.Dropped()))
	return nil
}
