package hub

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestHubSeedsThenBroadcasts(t *testing.T) {
	h := New()
	sub := h.Subscribe([]byte("seed"))
	defer sub.Close()

	if n := h.Broadcast([]byte("first")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if got := string(<-sub.Messages); got != "seed" {
		t.Fatalf("expected seed first, got %q", got)
	}
	if got := string(<-sub.Messages); got != "first" {
		t.Fatalf("expected broadcast, got %q", got)
	}
}

func TestHubDropsOldestOnOverflow(t *testing.T) {
	var drops atomic.Int32
	h := New(WithCapacity(2), WithDropHook(func() { drops.Add(1) }))
	sub := h.Subscribe(nil)
	defer sub.Close()

	for _, msg := range []string{"v1", "v2", "v3", "v4"} {
		h.Broadcast([]byte(msg))
	}
	if got := string(<-sub.Messages); got != "v3" {
		t.Fatalf("expected v3 to survive, got %q", got)
	}
	if got := string(<-sub.Messages); got != "v4" {
		t.Fatalf("expected newest message last, got %q", got)
	}
	if drops.Load() != 2 {
		t.Fatalf("expected 2 drops, got %d", drops.Load())
	}
}

func TestHubCloseSubscription(t *testing.T) {
	h := New()
	a := h.Subscribe(nil)
	b := h.Subscribe(nil)
	defer b.Close()
	if h.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", h.Len())
	}
	a.Close()
	a.Close()
	if _, ok := <-a.Messages; ok {
		t.Fatalf("expected closed channel")
	}
	if n := h.Broadcast([]byte("x")); n != 1 {
		t.Fatalf("expected 1 delivery after close, got %d", n)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Len())
	}
}

func TestHubCloseEndsEverything(t *testing.T) {
	h := New()
	sub := h.Subscribe(nil)
	h.Close()
	if _, ok := <-sub.Messages; ok {
		t.Fatalf("expected closed channel after hub close")
	}
	late := h.Subscribe([]byte("seed"))
	if _, ok := <-late.Messages; ok {
		t.Fatalf("expected closed channel for late subscriber")
	}
	if n := h.Broadcast([]byte("x")); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func TestHubConcurrentBroadcastAndClose(t *testing.T) {
	h := New(WithCapacity(1))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sub := h.Subscribe(nil)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Broadcast([]byte("m"))
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	if h.Len() != 0 {
		t.Fatalf("expected all subscribers gone, got %d", h.Len())
	}
}
