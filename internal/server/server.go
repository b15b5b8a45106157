package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nxtlog/canlogd/internal/livebuf"
	"github.com/nxtlog/canlogd/internal/logger"
	"github.com/nxtlog/canlogd/internal/logging"
	"github.com/nxtlog/canlogd/internal/metrics"
	"github.com/nxtlog/canlogd/internal/storage"
)

// ErrListen wraps listener setup failures.
var ErrListen = errors.New("listen failed")

// Server exposes the device API over HTTP: the live frame poll, status,
// and the log file browser. It serves the same WiFi clients the firmware
// UI does; everything it reads comes from the live buffer, the logger
// snapshot and the storage listing.
type Server struct {
	mu   sync.RWMutex
	addr string

	live  *livebuf.Buffer
	ctl   *logger.Logger
	store *storage.Store

	defaultLimit    int
	maxLimit        int
	shutdownTimeout time.Duration

	readyOnce sync.Once
	readyCh   chan struct{}
	log       *slog.Logger
}

const (
	defaultQueryLimit     = 100
	defaultMaxQueryLimit  = 1000
	defaultServerShutdown = 3 * time.Second
)

type Option func(*Server)

func New(opts ...Option) *Server {
	s := &Server{
		defaultLimit:    defaultQueryLimit,
		maxLimit:        defaultMaxQueryLimit,
		shutdownTimeout: defaultServerShutdown,
		readyCh:         make(chan struct{}),
		log:             logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) Option      { return func(s *Server) { s.addr = a } }
func WithLive(b *livebuf.Buffer) Option   { return func(s *Server) { s.live = b } }
func WithControl(l *logger.Logger) Option { return func(s *Server) { s.ctl = l } }
func WithStore(st *storage.Store) Option  { return func(s *Server) { s.store = st } }

func WithDefaultLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.defaultLimit = n
		}
	}
}

func WithMaxLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Serve binds the listener, signals Ready and blocks until ctx cancels.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		metrics.IncError(metrics.ErrHTTP)
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.setAddr(ln.Addr().String())
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.log.Info("http_listen", "addr", s.Addr())

	srv := &http.Server{Handler: s.routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		metrics.IncError(metrics.ErrHTTP)
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("GET /files/{name}", s.handleDownload)
	mux.HandleFunc("DELETE /files/{name}", s.handleDelete)
	return mux
}
