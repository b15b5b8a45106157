package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/nxtlog/canlogd/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	BusRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_rx_frames_total",
		Help: "Total CAN frames received from the bus backend.",
	})
	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "records_written_total",
		Help: "Total log records encrypted and appended to the active file.",
	})
	RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "records_dropped_total",
		Help: "Total log records dropped (queue overflow or failed writes).",
	})
	Rollovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "file_rollovers_total",
		Help: "Total size-based log file rollovers.",
	})
	Flushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "file_flushes_total",
		Help: "Total flushes of the active log file to durable storage.",
	})
	FilesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_created_total",
		Help: "Total log files created (fresh nonce and header each).",
	})
	LiveQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_queries_total",
		Help: "Total live ring buffer queries served.",
	})
	LiveStaleSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_stale_skips_total",
		Help: "Total ring buffer entries skipped due to overwrite races.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total frames dropped by the hub due to slow consumers.",
	})
	CurrentFileBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "current_file_bytes",
		Help: "Byte count of the currently open log file.",
	})
	LiveLatestSeq = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_latest_sequence",
		Help: "Latest sequence number assigned to a received frame.",
	})
	LoggerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logger_state",
		Help: "Logger state machine position (0=idle 1=armed 2=active 3=stopped).",
	})
	StorageReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storage_ready",
		Help: "1 when storage is present and writable, 0 otherwise.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrBusRead      = "bus_read"
	ErrBusInit      = "bus_init"
	ErrFileCreate   = "file_create"
	ErrFileWrite    = "file_write"
	ErrFileFlush    = "file_flush"
	ErrFileReopen   = "file_reopen"
	ErrStorageProbe = "storage_probe"
	ErrSensorRead   = "sensor_read"
	ErrSlcanDecode  = "slcan_decode"
	ErrHTTP         = "http"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localBusRx      uint64
	localWritten    uint64
	localDropped    uint64
	localRollovers  uint64
	localFlushes    uint64
	localFiles      uint64
	localLiveQuery  uint64
	localLiveStale  uint64
	localHubDrop    uint64
	localErrors     uint64
	localFileBytes  uint64
	localLatestSeq  uint64
	localState      uint64
	localStorageRdy uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	BusRx          uint64
	RecordsWritten uint64
	RecordsDropped uint64
	Rollovers      uint64
	Flushes        uint64
	FilesCreated   uint64
	LiveQueries    uint64
	LiveStaleSkips uint64
	HubDrops       uint64
	Errors         uint64 // sum across error labels
	FileBytes      uint64
	LatestSeq      uint64
	State          uint64
	StorageReady   bool
}

func Snap() Snapshot {
	return Snapshot{
		BusRx:          atomic.LoadUint64(&localBusRx),
		RecordsWritten: atomic.LoadUint64(&localWritten),
		RecordsDropped: atomic.LoadUint64(&localDropped),
		Rollovers:      atomic.LoadUint64(&localRollovers),
		Flushes:        atomic.LoadUint64(&localFlushes),
		FilesCreated:   atomic.LoadUint64(&localFiles),
		LiveQueries:    atomic.LoadUint64(&localLiveQuery),
		LiveStaleSkips: atomic.LoadUint64(&localLiveStale),
		HubDrops:       atomic.LoadUint64(&localHubDrop),
		Errors:         atomic.LoadUint64(&localErrors),
		FileBytes:      atomic.LoadUint64(&localFileBytes),
		LatestSeq:      atomic.LoadUint64(&localLatestSeq),
		State:          atomic.LoadUint64(&localState),
		StorageReady:   atomic.LoadUint64(&localStorageRdy) == 1,
	}
}

// Wrapper helpers to keep call sites simple.
func IncBusRx() {
	BusRxFrames.Inc()
	atomic.AddUint64(&localBusRx, 1)
}

func IncRecordWritten() {
	RecordsWritten.Inc()
	atomic.AddUint64(&localWritten, 1)
}

func IncRecordDropped() {
	RecordsDropped.Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncRollover() {
	Rollovers.Inc()
	atomic.AddUint64(&localRollovers, 1)
}

func IncFlush() {
	Flushes.Inc()
	atomic.AddUint64(&localFlushes, 1)
}

func IncFileCreated() {
	FilesCreated.Inc()
	atomic.AddUint64(&localFiles, 1)
}

func IncLiveQuery() {
	LiveQueries.Inc()
	atomic.AddUint64(&localLiveQuery, 1)
}

func IncLiveStaleSkip() {
	LiveStaleSkips.Inc()
	atomic.AddUint64(&localLiveStale, 1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func SetFileBytes(n int64) {
	CurrentFileBytes.Set(float64(n))
	atomic.StoreUint64(&localFileBytes, uint64(n))
}

func SetLatestSeq(n uint64) {
	LiveLatestSeq.Set(float64(n))
	atomic.StoreUint64(&localLatestSeq, n)
}

func SetLoggerState(s int) {
	LoggerState.Set(float64(s))
	atomic.StoreUint64(&localState, uint64(s))
}

func SetStorageReady(ok bool) {
	v := uint64(0)
	if ok {
		v = 1
	}
	StorageReady.Set(float64(v))
	atomic.StoreUint64(&localStorageRdy, v)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrBusRead, ErrBusInit,
		ErrFileCreate, ErrFileWrite, ErrFileFlush, ErrFileReopen,
		ErrStorageProbe, ErrSensorRead, ErrSlcanDecode, ErrHTTP,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
