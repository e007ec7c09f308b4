package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/metrics"
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
					"rounds_started", snap.RoundsStarted,
					"rounds_completed", snap.RoundsCompleted,
					"nn_dropped", snap.NnDropped,
					"heatmap_skips", snap.HeatmapSkips,
					"havoc_iterations", snap.HavocIterations,
					"compressed", snap.Compressed,
					"uncompressed", snap.Uncompressed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
