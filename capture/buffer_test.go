package capture

import (
	"bytes"
	"errors"
	"testing"
)

func TestBufferFlushConcatenatesInOrder(t *testing.T) {
	b := NewBuffer(0)
	for _, f := range [][]byte{{1, 2}, {3}, {4, 5, 6}} {
		if err := b.Append(f); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if b.FrameCount() != 3 || b.Size() != 6 {
		t.Fatalf("frames=%d size=%d", b.FrameCount(), b.Size())
	}

	got := b.Flush()
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("Flush = %v", got)
	}
	if b.Size() != 0 || b.Flush() != nil {
		t.Fatal("buffer not empty after flush")
	}
}

func TestBufferRejectsOverflow(t *testing.T) {
	b := NewBuffer(4)
	if err := b.Append([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append([]byte{4, 5}); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("err = %v, want ErrBufferFull", err)
	}
	if b.Size() != 3 {
		t.Fatalf("Size = %d, want 3", b.Size())
	}
}
