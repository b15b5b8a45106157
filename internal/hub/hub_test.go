package hub

import (
	"testing"
	"time"

	"github.com/nxtlog/canlogd/internal/can"
)

func tf(id uint32) TimestampedFrame {
	return TimestampedFrame{Frame: can.Frame{ID: id, DLC: 1}, Wall: time.Unix(0, 0)}
}

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan TimestampedFrame, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate a slow client.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(tf(0x123))
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan TimestampedFrame, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan TimestampedFrame, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	for i := 0; i < 10; i++ {
		h.Broadcast(tf(0x2))
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast client did not receive any frames while slow was backpressured")
	}
}

func TestHub_KickPolicyClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := &Client{Out: make(chan TimestampedFrame, 1), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	h.Broadcast(tf(1)) // fills the buffer
	h.Broadcast(tf(2)) // overflows: client is kicked
	select {
	case <-cl.Closed:
	case <-time.After(time.Second):
		t.Fatal("slow client was not kicked")
	}
}

func TestHub_TimestampTravelsWithFrame(t *testing.T) {
	h := New()
	cl := h.NewClient()
	h.Add(cl)
	defer h.Remove(cl)

	stamp := time.Date(2024, 5, 12, 10, 30, 45, 0, time.UTC)
	h.Broadcast(TimestampedFrame{Frame: can.Frame{ID: 0x100}, Wall: stamp})
	select {
	case got := <-cl.Out:
		if !got.Wall.Equal(stamp) || got.Frame.ID != 0x100 {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestHub_RemoveIdempotent(t *testing.T) {
	h := New()
	cl := h.NewClient()
	h.Add(cl)
	if h.Count() != 1 {
		t.Fatalf("count = %d", h.Count())
	}
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("count after remove = %d", h.Count())
	}
}
