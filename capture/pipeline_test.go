package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/room4-2/ConverseLive/pcm"
)

type fakeSource struct {
	frames  chan []float32
	openErr error

	mu     sync.Mutex
	opens  int
	closes int
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan []float32)}
}

func (s *fakeSource) Open(context.Context, int) (<-chan []float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.frames, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

func newFakeTicker() (*fakeTicker, TickerFunc) {
	ft := &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	return ft, func(time.Duration) Ticker { return ft }
}

func collector() (func(string), <-chan []byte) {
	ch := make(chan []byte, 16)
	return func(data string) {
		raw, err := pcm.Decode(data)
		if err != nil {
			panic(err)
		}
		ch <- raw
	}, ch
}

func frameOf(v float32, n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func encoded(frames ...[]float32) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, pcm.Int16ToBytes(pcm.Float32ToInt16(f))...)
	}
	return out
}

func expectChunk(t *testing.T, ch <-chan []byte, want []byte) {
	t.Helper()
	select {
	case got := <-ch:
		if !bytes.Equal(got, want) {
			t.Fatalf("chunk = %d bytes, want %d bytes", len(got), len(want))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}
}

func expectNoChunk(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected chunk of %d bytes", len(got))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipelineBatchesFramesPerWindow(t *testing.T) {
	src := newFakeSource()
	ticker, tickerFunc := newFakeTicker()
	p := New(src, WithTicker(tickerFunc), WithLogger(zaptest.NewLogger(t)))

	onChunk, chunks := collector()
	if err := p.Start(context.Background(), onChunk); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Frames at 0, 50 and 90 ms fall in the first window; 220 ms in the second.
	f0, f50, f90, f220 := frameOf(0.1, 128), frameOf(0.2, 128), frameOf(-0.3, 128), frameOf(0.4, 128)
	src.frames <- f0
	src.frames <- f50
	src.frames <- f90
	ticker.c <- time.Now()
	expectChunk(t, chunks, encoded(f0, f50, f90))

	src.frames <- f220
	ticker.c <- time.Now()
	expectChunk(t, chunks, encoded(f220))

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	expectNoChunk(t, chunks)
}

func TestPipelineSkipsEmptyWindows(t *testing.T) {
	src := newFakeSource()
	ticker, tickerFunc := newFakeTicker()
	p := New(src, WithTicker(tickerFunc))

	onChunk, chunks := collector()
	if err := p.Start(context.Background(), onChunk); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ticker.c <- time.Now()
	ticker.c <- time.Now()
	expectNoChunk(t, chunks)

	_ = p.Stop()
}

func TestPipelineStopFlushesRemainder(t *testing.T) {
	src := newFakeSource()
	ticker, tickerFunc := newFakeTicker()
	p := New(src, WithTicker(tickerFunc))

	onChunk, chunks := collector()
	if err := p.Start(context.Background(), onChunk); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f := frameOf(0.5, 64)
	src.frames <- f
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	expectChunk(t, chunks, encoded(f))

	select {
	case <-ticker.stopped:
	default:
		t.Fatal("ticker not stopped")
	}
	if _, closes := src.counts(); closes != 1 {
		t.Fatalf("source closed %d times, want 1", closes)
	}
}

func TestPipelineStopIsIdempotent(t *testing.T) {
	src := newFakeSource()
	_, tickerFunc := newFakeTicker()
	p := New(src, WithTicker(tickerFunc))

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	onChunk, _ := collector()
	if err := p.Start(context.Background(), onChunk); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if _, closes := src.counts(); closes != 1 {
		t.Fatalf("source closed %d times, want 1", closes)
	}
	if p.Running() {
		t.Fatal("still running after Stop")
	}
}

func TestPipelineRejectsSecondStart(t *testing.T) {
	src := newFakeSource()
	_, tickerFunc := newFakeTicker()
	p := New(src, WithTicker(tickerFunc))

	onChunk, _ := collector()
	if err := p.Start(context.Background(), onChunk); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background(), onChunk); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}
	if opens, _ := src.counts(); opens != 1 {
		t.Fatalf("source opened %d times, want 1", opens)
	}
}

func TestPipelineReportsPermissionDenied(t *testing.T) {
	src := newFakeSource()
	src.openErr = ErrPermissionDenied
	p := New(src)

	onChunk, _ := collector()
	err := p.Start(context.Background(), onChunk)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if p.Running() {
		t.Fatal("running after failed Start")
	}
	if opens, _ := src.counts(); opens != 1 {
		t.Fatalf("source opened %d times, want 1", opens)
	}

	// Start may be retried once the user grants access.
	src.openErr = nil
	if err := p.Start(context.Background(), onChunk); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	_ = p.Stop()
}

func TestPipelineDropsFramesBeyondMaxBuffer(t *testing.T) {
	src := newFakeSource()
	ticker, tickerFunc := newFakeTicker()
	p := New(src, WithTicker(tickerFunc), WithMaxBufferSize(256))

	onChunk, chunks := collector()
	if err := p.Start(context.Background(), onChunk); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f := frameOf(0.25, 128)
	src.frames <- f
	src.frames <- frameOf(0.75, 128)
	ticker.c <- time.Now()
	expectChunk(t, chunks, encoded(f))

	_ = p.Stop()
}

func TestFileSourceReplaysWAV(t *testing.T) {
	samples := []int16{100, -100, 200, -200, 300}
	header := make([]byte, 44)
	copy(header, "RIFF")
	path := filepath.Join(t.TempDir(), "user.wav")
	if err := os.WriteFile(path, append(header, pcm.Int16ToBytes(samples)...), 0o600); err != nil {
		t.Fatal(err)
	}

	src := &FileSource{Path: path, FrameSamples: 2, Unpaced: true}
	frames, err := src.Open(context.Background(), pcm.CaptureSampleRate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var got []float32
	for f := range frames {
		got = append(got, f...)
	}
	want := pcm.Int16ToFloat32(samples)
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	_ = src.Close()
}

func TestFileSourceMissingFile(t *testing.T) {
	src := &FileSource{Path: filepath.Join(t.TempDir(), "missing.pcm")}
	if _, err := src.Open(context.Background(), pcm.CaptureSampleRate); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}
