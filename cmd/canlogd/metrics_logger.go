package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nxtlog/canlogd/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"bus_rx", snap.BusRx,
					"records_written", snap.RecordsWritten,
					"records_dropped", snap.RecordsDropped,
					"rollovers", snap.Rollovers,
					"files_created", snap.FilesCreated,
					"live_queries", snap.LiveQueries,
					"hub_drops", snap.HubDrops,
					"file_bytes", snap.FileBytes,
					"latest_seq", snap.LatestSeq,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
