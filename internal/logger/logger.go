package logger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nxtlog/canlogd/internal/can"
	"github.com/nxtlog/canlogd/internal/livebuf"
	"github.com/nxtlog/canlogd/internal/logging"
	"github.com/nxtlog/canlogd/internal/metrics"
	"github.com/nxtlog/canlogd/internal/nxt"
	"github.com/nxtlog/canlogd/internal/pipeline"
	"github.com/nxtlog/canlogd/internal/record"
	"github.com/nxtlog/canlogd/internal/sensors"
	"github.com/nxtlog/canlogd/internal/storage"
)

// errStorageNotReady marks records dropped while the medium is absent.
var errStorageNotReady = errors.New("logger: storage not ready")

const (
	defaultQueueSize       = 256
	defaultActivityTimeout = 2 * time.Second
	defaultProbeInterval   = 2 * time.Second
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Writer *nxt.Writer
	Live   *livebuf.Buffer
	Store  *storage.Store
	IMU    sensors.IMUProvider
	GPS    sensors.GPSProvider

	// QueueSize bounds the ingest-to-persist record queue.
	QueueSize int
	// ActivityTimeout separates ActivelyLogging from RecentlyStopped.
	ActivityTimeout time.Duration
	// ProbeInterval paces the storage presence re-probe.
	ProbeInterval time.Duration
	// Now supplies the clock (tests override).
	Now func() time.Time
}

// Logger orchestrates readiness, lazy file creation, the retry-once write
// policy and status indication. The ingest path (HandleFrame) only stamps,
// pushes to the live buffer and enqueues; all storage I/O happens on the
// queue's consumer goroutine so bus reception never waits on the medium.
type Logger struct {
	cfg   Config
	queue *pipeline.Queue
	boot  uint32

	mu           sync.Mutex
	state        State
	storageReady bool
	lastWrite    time.Time
}

// New builds the orchestrator and starts its persist goroutine. Call Run
// for the periodic probes and Close on shutdown.
func New(ctx context.Context, cfg Config) *Logger {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = defaultActivityTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IMU == nil {
		cfg.IMU = sensors.NoIMU{}
	}
	if cfg.GPS == nil {
		cfg.GPS = sensors.NoGPS{}
	}
	l := &Logger{
		cfg:  cfg,
		boot: nxt.NewNonce(), // pollers detect restarts by boot change
	}
	l.queue = pipeline.New(ctx, cfg.QueueSize, l.persist, pipeline.Hooks{
		OnError: func(err error) {
			metrics.IncRecordDropped()
			if !errors.Is(err, errStorageNotReady) {
				logging.L().Warn("record_dropped", "error", err)
			}
		},
		OnAfter: func() { metrics.IncRecordWritten() },
		OnDrop: func() error {
			metrics.IncRecordDropped()
			return nil // ingest path stays non-blocking; loss is counted
		},
	})
	l.probeStorage() // initial readiness before any traffic
	return l
}

// Boot returns the per-process random identifier reported to live pollers.
func (l *Logger) Boot() uint32 { return l.boot }

// HandleFrame is the hot ingest path: assign a sequence, copy into the live
// buffer, snapshot sensor samples and enqueue for persistence. Computation
// only — no storage I/O, no blocking. Single-caller discipline: exactly one
// ingest goroutine invokes it, which keeps live-buffer pushes totally
// ordered and sequences gap-free.
func (l *Logger) HandleFrame(fr can.Frame, wall time.Time) uint64 {
	seq := l.cfg.Live.Push(fr, wall)
	rec := record.Record{
		Wall:  wall,
		Frame: fr,
		IMU:   l.cfg.IMU.Sample(),
		GPS:   l.cfg.GPS.Fix(),
	}
	_ = l.queue.Enqueue(rec)
	return seq
}

// persist runs on the queue consumer goroutine: lazy create, write, one
// inline retry with a fresh file, then escalate to storage-not-ready.
func (l *Logger) persist(rec record.Record) error {
	if !l.StorageReady() {
		return errStorageNotReady
	}
	w := l.cfg.Writer
	if !w.IsOpen() {
		if err := w.Create(); err != nil {
			l.setStorageReady(false)
			return err
		}
	}
	line := rec.EncodeLine()
	err := w.WriteLine(line)
	if err != nil {
		// One immediate retry on a fresh file; the medium may have been
		// swapped or the old handle invalidated.
		logging.L().Warn("write_failed_retrying", "error", err)
		if cerr := w.Create(); cerr != nil {
			l.setStorageReady(false)
			return cerr
		}
		if err = w.WriteLine(line); err != nil {
			l.setStorageReady(false)
			return err
		}
	}
	l.noteWrite()
	return nil
}

func (l *Logger) noteWrite() {
	l.mu.Lock()
	l.lastWrite = l.cfg.Now()
	l.transitionLocked(StateActivelyLogging)
	l.mu.Unlock()
}

// Run drives the periodic storage re-probe and the activity timeout check
// until ctx is cancelled.
func (l *Logger) Run(ctx context.Context) {
	probe := time.NewTicker(l.cfg.ProbeInterval)
	defer probe.Stop()
	activity := time.NewTicker(l.cfg.ActivityTimeout / 2)
	defer activity.Stop()
	for {
		select {
		case <-probe.C:
			l.probeStorage()
		case <-activity.C:
			l.checkActivity()
		case <-ctx.Done():
			return
		}
	}
}

// probeStorage re-checks media presence independent of frame traffic. A
// reappearing medium arms the logger; the next frame triggers file
// creation (lazy — no file until traffic warrants one).
func (l *Logger) probeStorage() {
	err := l.cfg.Store.Probe()
	if err != nil {
		if l.StorageReady() {
			logging.L().Warn("storage_lost", "error", err)
			l.cfg.Writer.Close()
		}
		metrics.IncError(metrics.ErrStorageProbe)
		l.setStorageReady(false)
		return
	}
	if !l.StorageReady() {
		logging.L().Info("storage_ready", "dir", l.cfg.Store.Dir())
	}
	l.setStorageReady(true)
}

func (l *Logger) checkActivity() {
	l.mu.Lock()
	if l.state == StateActivelyLogging && l.cfg.Now().Sub(l.lastWrite) > l.cfg.ActivityTimeout {
		l.transitionLocked(StateRecentlyStopped)
	}
	l.mu.Unlock()
}

func (l *Logger) setStorageReady(ready bool) {
	l.mu.Lock()
	changed := l.storageReady != ready
	l.storageReady = ready
	if ready {
		if l.state == StateIdle {
			l.transitionLocked(StateArmedReady)
		}
	} else {
		l.transitionLocked(StateIdle)
	}
	l.mu.Unlock()
	if changed {
		metrics.SetStorageReady(ready)
	}
}

func (l *Logger) transitionLocked(next State) {
	if l.state == next {
		return
	}
	logging.L().Debug("logger_state", "from", l.state.String(), "to", next.String())
	l.state = next
	metrics.SetLoggerState(int(next))
}

// StorageReady reports whether the medium is present and writable.
func (l *Logger) StorageReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.storageReady
}

// State returns the current operating mode.
func (l *Logger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// WithActiveFileClosed runs fn inside the writer's close-for-read sequence
// when path is still the open file. nxt.ErrNotActive means the file is final
// on disk and can be read directly.
func (l *Logger) WithActiveFileClosed(path string, fn func(path string) error) error {
	return l.cfg.Writer.WithFileClosedIf(path, fn)
}

// ActivePath returns the open log file path ("" when none).
func (l *Logger) ActivePath() string { return l.cfg.Writer.Path() }

// Status is the snapshot served to UI and telemetry collaborators.
type Status struct {
	State        string `json:"state"`
	StorageReady bool   `json:"storage_ready"`
	Boot         uint32 `json:"boot"`
	LatestSeq    uint64 `json:"latest_seq"`
	FilePath     string `json:"file,omitempty"`
	FileBytes    int64  `json:"file_bytes"`
	FileRecords  uint64 `json:"file_records"`
	QueueDepth   int    `json:"queue_depth"`
}

// Snapshot assembles the current Status.
func (l *Logger) Snapshot() Status {
	l.mu.Lock()
	st := l.state
	ready := l.storageReady
	l.mu.Unlock()
	return Status{
		State:        st.String(),
		StorageReady: ready,
		Boot:         l.boot,
		LatestSeq:    l.cfg.Live.Latest(),
		FilePath:     l.cfg.Writer.Path(),
		FileBytes:    l.cfg.Writer.Size(),
		FileRecords:  l.cfg.Writer.Records(),
		QueueDepth:   l.queue.Depth(),
	}
}

// Drain waits for queued records to persist (tests use this before
// asserting on file contents).
func (l *Logger) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for l.queue.Depth() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// Close stops the persist goroutine and finalizes the active file.
func (l *Logger) Close() {
	l.queue.Close()
	l.cfg.Writer.Close()
}
