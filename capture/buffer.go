package capture

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when the buffer exceeds its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// Buffer accumulates PCM frames between flushes
type Buffer struct {
	frames    [][]byte
	totalSize int
	maxSize   int
	mu        sync.Mutex
}

// NewBuffer creates a buffer with the specified maximum size in bytes
func NewBuffer(maxSize int) *Buffer {
	return &Buffer{maxSize: maxSize}
}

// MaxSize returns the maximum buffer size
func (b *Buffer) MaxSize() int {
	return b.maxSize
}

// Append adds a frame to the buffer.
// Returns ErrBufferFull if adding the frame would exceed maxSize
func (b *Buffer) Append(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	newSize := b.totalSize + len(frame)
	if b.maxSize > 0 && newSize > b.maxSize {
		return ErrBufferFull
	}

	b.frames = append(b.frames, frame)
	b.totalSize = newSize
	return nil
}

// Flush concatenates all frames in arrival order and clears the buffer.
// Returns nil when nothing is buffered
func (b *Buffer) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return nil
	}

	result := make([]byte, 0, b.totalSize)
	for _, frame := range b.frames {
		result = append(result, frame...)
	}

	b.frames = nil
	b.totalSize = 0

	return result
}

// Size returns the current total buffered bytes
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

// FrameCount returns the number of frames in the buffer
func (b *Buffer) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}
