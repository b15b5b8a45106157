package livebuf

import (
	"sync/atomic"
	"time"

	"github.com/nxtlog/canlogd/internal/can"
	"github.com/nxtlog/canlogd/internal/metrics"
)

// DefaultCapacity retains a few seconds of traffic at typical bus rates,
// enough for a 1 Hz live-view poller.
const DefaultCapacity = 200

// Entry is one retained frame observation. Seq starts at 1 and is gap-free:
// exactly one sequence number per received frame, never reused.
type Entry struct {
	Seq   uint64
	Wall  time.Time
	Frame can.Frame
}

// Buffer retains the most recent C frames for polling consumers,
// independent of storage health. One producer goroutine owns Push; any
// number of readers may Query concurrently without locks. A slot whose
// stored sequence does not match the expected one was overwritten mid-read
// and is skipped — acceptable for a live view, never used for the durable
// log.
type Buffer struct {
	slots  []atomic.Pointer[Entry]
	latest atomic.Uint64
}

// New creates a buffer with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{slots: make([]atomic.Pointer[Entry], capacity)}
}

// Capacity returns the fixed slot count.
func (b *Buffer) Capacity() int { return len(b.slots) }

// Latest returns the highest assigned sequence (0 before the first push).
func (b *Buffer) Latest() uint64 { return b.latest.Load() }

// Push stores a frame under the next sequence number and returns it.
// Single-writer: only the ingest goroutine may call Push.
func (b *Buffer) Push(fr can.Frame, wall time.Time) uint64 {
	seq := b.latest.Load() + 1
	e := &Entry{Seq: seq, Wall: wall, Frame: fr}
	b.slots[(seq-1)%uint64(len(b.slots))].Store(e)
	b.latest.Store(seq)
	metrics.SetLatestSeq(seq)
	return seq
}

// Query returns entries with sequence > since, oldest first, at most limit.
// A since below the oldest retained sequence is clamped to it; a since at
// or past the latest yields an empty result. The returned latest value lets
// pollers advance their cursor even when entries were skipped.
func (b *Buffer) Query(since uint64, limit int) ([]Entry, uint64) {
	metrics.IncLiveQuery()
	latest := b.latest.Load()
	if since >= latest || limit <= 0 {
		return nil, latest
	}
	capacity := uint64(len(b.slots))
	start := since + 1
	if latest > capacity && start < latest-capacity+1 {
		start = latest - capacity + 1
	}
	out := make([]Entry, 0, min(int(latest-start+1), limit))
	for seq := start; seq <= latest && len(out) < limit; seq++ {
		e := b.slots[(seq-1)%capacity].Load()
		if e == nil || e.Seq != seq {
			// Overwritten between the latest load and this read.
			metrics.IncLiveStaleSkip()
			continue
		}
		out = append(out, *e)
	}
	return out, latest
}
