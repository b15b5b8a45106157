package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nxtlog/canlogd/internal/hub"
)

// initBackend selects the CAN backend and starts its RX loop. It returns a
// cleanup function and an error instead of exiting the process to allow
// graceful handling by the caller. "none" runs without a bus (bench mode:
// the HTTP API and file browser stay available).
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	switch cfg.backend {
	case "slcan":
		return initSlcanBackend(ctx, cfg, h, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, h, l, wg)
	case "none":
		l.Info("backend_none")
		return func() {}, nil
	default:
		return func() {}, fmt.Errorf("unknown backend %q (use socketcan|slcan|none)", cfg.backend)
	}
}
