package events

import (
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestRegistryIsolatesPanickingListener(t *testing.T) {
	r := NewRegistry[string]("message", zaptest.NewLogger(t))

	var got []string
	r.Add(func(string) { panic("boom") })
	r.Add(func(s string) { got = append(got, s) })

	if n := r.Emit("hello"); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("second listener got %v", got)
	}
}

func TestRegistryDeliversInSubscriptionOrder(t *testing.T) {
	r := NewRegistry[int]("order", nil)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		r.Add(func(int) { order = append(order, i) })
	}
	r.Emit(0)

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry[int]("test", nil)

	calls := 0
	unsubscribe := r.Add(func(int) { calls++ })
	keep := r.Add(func(int) {})

	unsubscribe()
	unsubscribe()
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	r.Emit(1)
	if calls != 0 {
		t.Fatalf("removed listener was called %d times", calls)
	}

	r.Clear()
	keep()
	unsubscribe()
	if r.Len() != 0 {
		t.Fatalf("Len = %d after Clear", r.Len())
	}
}

func TestUnsubscribeDuringEmit(t *testing.T) {
	r := NewRegistry[int]("test", nil)

	var second int
	var unsubscribeSecond func()
	r.Add(func(int) { unsubscribeSecond() })
	unsubscribeSecond = r.Add(func(int) { second++ })

	r.Emit(1)
	r.Emit(2)
	if second != 1 {
		t.Fatalf("second listener called %d times, want 1", second)
	}
}

func TestLoopRunsInPostOrder(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d funcs, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d ran %d", i, v)
		}
	}
}

func TestLoopCloseDrainsQueue(t *testing.T) {
	l := NewLoop()

	ran := 0
	block := make(chan struct{})
	l.Post(func() { <-block })
	l.Post(func() { ran++ })
	l.Close()
	l.Close()

	if l.Post(func() { ran++ }) {
		t.Fatal("Post after Close should be rejected")
	}
	close(block)
	<-l.Done()

	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
	l.Flush()
}
