package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nxtlog/canlogd/internal/livebuf"
	"github.com/nxtlog/canlogd/internal/logger"
	"github.com/nxtlog/canlogd/internal/metrics"
	"github.com/nxtlog/canlogd/internal/nxt"
	"github.com/nxtlog/canlogd/internal/record"
	"github.com/nxtlog/canlogd/internal/server"
	"github.com/nxtlog/canlogd/internal/storage"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, hub_init.go, metrics_logger.go, backend.go, mdns.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("canlogd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	if cfg.decodeFile != "" {
		if err := runDecode(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	key, err := nxt.LoadKey(cfg.keyFile)
	if err != nil {
		l.Error("key_load_error", "error", err)
		os.Exit(1)
	}
	imu, gps := initSensors(ctx, cfg, l, &wg)

	store := storage.New(cfg.logDir)
	writer := nxt.NewWriter(nxt.WriterConfig{
		Dir:             cfg.logDir,
		Key:             key,
		MaxFileBytes:    cfg.maxFileBytes,
		FlushEvery:      cfg.flushEvery,
		ForceFlushFirst: cfg.forceFlushFirst,
		HeaderLine:      record.HeaderLine(),
		NameFunc:        storage.FileName,
	})
	live := livebuf.New(cfg.liveCapacity)
	ctl := logger.New(ctx, logger.Config{
		Writer:          writer,
		Live:            live,
		Store:           store,
		IMU:             imu,
		GPS:             gps,
		QueueSize:       cfg.queueSize,
		ActivityTimeout: cfg.activityTimeout,
		ProbeInterval:   cfg.probeInterval,
	})
	wg.Add(1)
	go func() { defer wg.Done(); ctl.Run(ctx) }()

	// Single ingest client: one goroutine pulls from the hub and drives the
	// orchestrator, which keeps live-buffer sequences gap-free.
	ingest := h.NewClient()
	h.Add(ingest)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case tf := <-ingest.Out:
				ctl.HandleFrame(tf.Frame, tf.Wall)
			case <-ingest.Closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cleanup, berr := initBackend(ctx, cfg, h, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return
	}

	srv := server.New(
		server.WithListenAddr(cfg.listenAddr),
		server.WithLive(live),
		server.WithControl(ctl),
		server.WithStore(store),
		server.WithLogger(l),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("http_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if _, err := startMDNS(ctx, cfg, ctl, portNum); err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
	}()

	// Ready when the listener is bound, storage is writable and context not
	// cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctl.StorageReady() && ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cleanup()
	ctl.Drain(2 * time.Second)
	ctl.Close()
	wg.Wait()
}

// runDecode is the maintenance mode: decrypt one log file to stdout and
// exit. The same binary that writes files can always read them back.
func runDecode(cfg *appConfig) error {
	key, err := nxt.LoadKey(cfg.keyFile)
	if err != nil {
		return err
	}
	return nxt.DecodeFile(cfg.decodeFile, key, os.Stdout)
}
