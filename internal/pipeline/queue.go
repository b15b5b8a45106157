package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nxtlog/canlogd/internal/record"
)

// Queue funnels log records from the ingest path to the single persist
// goroutine (fan-in). Enqueue never blocks: when the buffer is full the
// configured OnDrop hook runs and its error is returned, so storage-device
// slowness can never stall frame reception. The consumer side is where
// encode, encrypt, flush and rollover I/O happen.
//
// Life-cycle:
//
//	q := New(ctx, buf, persistFn, hooks)
//	q.Enqueue(rec)
//	q.Close()
//
// After Close no more records are processed; late Enqueue calls return
// ErrClosed.
type Queue struct {
	mu     sync.Mutex
	ch     chan record.Record
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sink   func(record.Record) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize Queue behavior without coupling it to metrics or logging
// choices of the caller.
type Hooks struct {
	// OnError is called when the sink returns a non-nil error (record not
	// persisted, already past any sink-internal retry).
	OnError func(error)
	// OnAfter is called only after a successful sink call.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is
	// returned from Enqueue. If nil, the overflow is silent.
	OnDrop func() error
}

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("pipeline: queue closed")

// New constructs a Queue with a buffered channel of size buf and starts the
// consumer goroutine.
func New(parent context.Context, buf int, sink func(record.Record) error, hooks Hooks) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		ch:     make(chan record.Record, buf),
		ctx:    ctx,
		cancel: cancel,
		sink:   sink,
		hooks:  hooks,
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case rec, ok := <-q.ch:
			if !ok {
				return
			}
			q.deliver(rec)
		case <-q.ctx.Done():
			// Parent cancelled: persist what was already accepted, then exit.
			for {
				select {
				case rec, ok := <-q.ch:
					if !ok {
						return
					}
					q.deliver(rec)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(rec record.Record) {
	if err := q.sink(rec); err != nil {
		if q.hooks.OnError != nil {
			q.hooks.OnError(err)
		}
		return
	}
	if q.hooks.OnAfter != nil {
		q.hooks.OnAfter()
	}
}

// Enqueue hands a record to the persist goroutine or returns the drop error
// when the buffer is full.
func (q *Queue) Enqueue(rec record.Record) error {
	// Fast-path check so steady-state enqueues avoid the lock when already shut down.
	if q.closed.Load() {
		return ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- rec:
		return nil
	default:
		if q.hooks.OnDrop != nil {
			return q.hooks.OnDrop()
		}
		return nil
	}
}

// Depth reports queued-but-unpersisted records (diagnostics only).
func (q *Queue) Depth() int { return len(q.ch) }

// Close stops intake, waits for every accepted record to be delivered,
// then releases the consumer.
func (q *Queue) Close() {
	if q.closed.Swap(true) { // already closed
		return
	}
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
	q.cancel()
}
