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

	"github.com/kstaniek/rl-fuzz-bridge/internal/broker"
	"github.com/kstaniek/rl-fuzz-bridge/internal/bus"
	"github.com/kstaniek/rl-fuzz-bridge/internal/discovery"
	"github.com/kstaniek/rl-fuzz-bridge/internal/metrics"
	"github.com/kstaniek/rl-fuzz-bridge/internal/passive"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("rl-broker %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	fabric := bus.New()
	fabric.OutBufSize = cfg.busBuffer
	if cfg.busPolicy == "kick" {
		fabric.Policy = bus.PolicyKick
	}

	desc := passive.FuzzerDescription{
		ECSize:     cfg.ecSize,
		Instances:  uint32(cfg.instances),
		FuzzTarget: cfg.fuzzTarget,
	}

	br := broker.New(cfg.predictorAddr, cfg.fleetAddr, desc, cfg.handshakeTO, fabric, broker.Hooks{
		OnPredictorConnected: func(name string) { l.Info("predictor_session_started", "name", name) },
		OnPredictorLost:      func(err error) { l.Warn("predictor_session_lost", "error", err) },
		OnFleetJoined:        func(id uint32) { l.Info("fleet_client_joined", "client_id", id) },
		OnFleetLeft:          func(id uint32, err error) { l.Info("fleet_client_left", "client_id", id, "error", err) },
	})
	if err := br.Start(); err != nil {
		l.Error("broker_start_failed", "error", err)
		os.Exit(1)
	}
	l.Info("listening", "predictor_addr", br.PredictorAddr(), "fleet_addr", br.FleetAddr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	var mdnsCleanup func()
	if cfg.mdnsEnable {
		port := 0
		if _, p, err := net.SplitHostPort(br.PredictorAddr()); err == nil {
			if pn, err := strconv.Atoi(p); err == nil {
				port = pn
			}
		}
		meta := []string{"fuzz_target=" + cfg.fuzzTarget, "version=" + version}
		cleanup, err := discovery.Advertise(ctx, cfg.mdnsName, port, meta)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			mdnsCleanup = cleanup
			l.Info("mdns_started", "service", discovery.ServiceType, "port", port)
		}
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
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
	if mdnsCleanup != nil {
		mdnsCleanup()
	}
	br.Close()
	wg.Wait()
}
