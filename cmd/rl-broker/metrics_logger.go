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
					"broker_sessions", snap.BrokerSessions,
					"bus_clients", snap.BusClients,
					"bus_fanout", snap.BusFanout,
					"bus_dropped", snap.BusDropped,
					"bus_kicked", snap.BusKicked,
					"bus_self_filtered", snap.BusSelfFiltered,
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
