package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/bridge"
	"github.com/kstaniek/rl-fuzz-bridge/internal/corpus"
	"github.com/kstaniek/rl-fuzz-bridge/internal/executor"
	"github.com/kstaniek/rl-fuzz-bridge/internal/metrics"
	"github.com/kstaniek/rl-fuzz-bridge/internal/mutate"
	"github.com/kstaniek/rl-fuzz-bridge/internal/stage"
)

// seedCorpus is the demo worker's fixed starting population: small,
// varied inputs for DemoTarget to chew on. A real embedding fuzzer
// supplies its own corpus; this binary exists to exercise the bridge
// and stage end to end.
var seedCorpus = [][]byte{
	[]byte("hello"),
	[]byte("AAAANNBB"),
	[]byte{0x00, 0x01, 0x02, 0x03},
	[]byte("the quick brown fox"),
}

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("rl-worker %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	br := bridge.New(cfg.listenAddr, cfg.workerName, cfg.handshakeTO, bridge.Hooks{
		OnStateChange:  func(s bridge.State) { l.Info("bridge_state_changed", "state", s.String()) },
		OnSessionError: func(err error) { l.Warn("bridge_session_error", "error", err) },
	})
	if err := br.Start(); err != nil {
		l.Error("bridge_start_failed", "error", err)
		os.Exit(1)
	}
	l.Info("listening", "addr", br.Addr())

	exec := executor.NewDemoTarget(cfg.mapSize)
	rnd := mutate.NewStdRand(cfg.seed)
	st := stage.New(exec, br, rnd, stage.WithDiagnosticInputs(cfg.diagnosticInputs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	wg.Add(1)
	go runFuzzLoop(ctx, st, l, &wg)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	br.Close()
	wg.Wait()
}

// runFuzzLoop drives the mutation stage over the seed corpus in a
// round-robin until ctx is cancelled, standing in for the embedding
// fuzzer's own select-next-entry loop.
func runFuzzLoop(ctx context.Context, st *stage.Stage, l *slog.Logger, wg *sync.WaitGroup) {
	defer wg.Done()
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		seed := seedCorpus[i%len(seedCorpus)]
		in := corpus.NewInput(append([]byte(nil), seed...), 0)
		if err := st.Perform(corpus.ID(i), in); err != nil {
			l.Error("stage_perform_failed", "error", err)
			return
		}
		i++
		time.Sleep(5 * time.Millisecond)
	}
}
