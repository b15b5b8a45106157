//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nxtlog/canlogd/internal/can"
	"github.com/nxtlog/canlogd/internal/hub"
	"github.com/nxtlog/canlogd/internal/metrics"
	"github.com/nxtlog/canlogd/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string) (*socketcan.Device, error) { return socketcan.Open(iface) }

// initSocketCANBackend opens the raw CAN socket and launches the RX loop.
// Read errors back off exponentially; too many consecutive failures close
// the device and reopen it on the bus-retry interval so a bounced interface
// (ip link down/up) recovers without a restart.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf)
	if err != nil {
		metrics.IncError(metrics.ErrBusInit)
		return func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)

	var devMu sync.Mutex
	closeDev := func() {
		devMu.Lock()
		if dev != nil {
			_ = dev.Close()
			dev = nil
		}
		devMu.Unlock()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		defer closeDev()
		backoff := rxBackoffMin
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			devMu.Lock()
			d := dev
			devMu.Unlock()
			if d == nil {
				// Reopen on the retry interval after an escalated failure.
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.busRetry):
				}
				nd, err := openSocketCANDevice(cfg.canIf)
				if err != nil {
					metrics.IncError(metrics.ErrBusInit)
					l.Warn("socketcan_reopen_failed", "if", cfg.canIf, "error", err)
					continue
				}
				devMu.Lock()
				dev = nd
				devMu.Unlock()
				failures = 0
				backoff = rxBackoffMin
				l.Info("socketcan_reopen", "if", cfg.canIf)
				continue
			}
			var fr can.Frame
			if err := d.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				metrics.IncError(metrics.ErrBusRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				failures++
				if failures >= 5 { // persistent fault: cycle the socket
					closeDev()
				}
				continue
			}
			metrics.IncBusRx()
			h.Broadcast(hub.TimestampedFrame{Frame: fr, Wall: time.Now()})
			backoff = rxBackoffMin
			failures = 0
		}
	}()
	return closeDev, nil
}
