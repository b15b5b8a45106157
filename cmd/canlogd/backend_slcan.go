package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nxtlog/canlogd/internal/can"
	"github.com/nxtlog/canlogd/internal/hub"
	"github.com/nxtlog/canlogd/internal/metrics"
	"github.com/nxtlog/canlogd/internal/slcan"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSlcanPort is a hook for tests (overridden in unit tests).
var openSlcanPort = slcan.Open

// initSlcanBackend opens the USB-serial adapter, puts its channel on the bus
// and launches the RX loop. A removed adapter (path error on read) closes
// the port and reattaches on the bus-retry interval, so a replugged USB
// stick resumes without a restart.
func initSlcanBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	sp, err := openSlcanPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		metrics.IncError(metrics.ErrBusInit)
		return func() {}, fmt.Errorf("open slcan: %w", err)
	}
	if err := slcan.SetupChannel(sp, cfg.slcanBitrate); err != nil {
		_ = sp.Close()
		metrics.IncError(metrics.ErrBusInit)
		return func() {}, err
	}
	l.Info("slcan_open", "device", cfg.serialDev, "baud", cfg.baud, "bitrate_code", cfg.slcanBitrate)

	var portMu sync.Mutex
	port := sp
	closePort := func() {
		portMu.Lock()
		if port != nil {
			_ = port.Close()
			port = nil
		}
		portMu.Unlock()
	}
	codec := slcan.Codec{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("slcan_rx_end")
		defer closePort()
		buf := make([]byte, serialReadBufSize)
		acc := bytes.NewBuffer(nil)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			portMu.Lock()
			p := port
			portMu.Unlock()
			if p == nil {
				// Reattach on the retry interval after the adapter vanished.
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.busRetry):
				}
				np, err := openSlcanPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
				if err != nil {
					metrics.IncError(metrics.ErrBusInit)
					l.Warn("slcan_reopen_failed", "device", cfg.serialDev, "error", err)
					continue
				}
				if err := slcan.SetupChannel(np, cfg.slcanBitrate); err != nil {
					_ = np.Close()
					metrics.IncError(metrics.ErrBusInit)
					l.Warn("slcan_reopen_failed", "device", cfg.serialDev, "error", err)
					continue
				}
				portMu.Lock()
				port = np
				portMu.Unlock()
				acc.Reset()
				backoff = rxBackoffMin
				l.Info("slcan_reopen", "device", cfg.serialDev)
				continue
			}
			n, err := p.Read(buf)
			if n > 0 {
				acc.Write(buf[:n])
				_ = codec.DecodeStream(acc, func(fr can.Frame) {
					metrics.IncBusRx()
					h.Broadcast(hub.TimestampedFrame{Frame: fr, Wall: time.Now()})
				})
				if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
					acc = bytes.NewBuffer(nil)
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					// Adapter unplugged: cycle the port, keep the loop alive.
					metrics.IncError(metrics.ErrBusRead)
					l.Warn("slcan_device_lost", "device", cfg.serialDev, "error", err)
					closePort()
					continue
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // read timeout; normal on a quiet bus
				}
				metrics.IncError(metrics.ErrBusRead)
				l.Warn("slcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
	return func() {
		portMu.Lock()
		if port != nil {
			slcan.TeardownChannel(port)
			_ = port.Close()
			port = nil
		}
		portMu.Unlock()
	}, nil
}
