// Package metrics exposes Prometheus counters/gauges for the bridge,
// broker, mutation stage, and pub/sub fabric, plus a cheap local
// mirror for periodic log snapshots: promauto registration, local
// atomic mirrors, and StartHTTP/Snap/readiness plumbing.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/rl-fuzz-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_rounds_started_total",
		Help: "Total predictor rounds opened with Predict.",
	})
	RoundsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_rounds_completed_total",
		Help: "Total predictor rounds closed with Reward.",
	})
	NnDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_nn_dropped_total",
		Help: "Total times the predictor session was lost mid-round (timeout or protocol error).",
	})
	HeatmapHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_heatmap_mutations_total",
		Help: "Heatmap-indexed mutations applied, by mutator.",
	}, []string{"mutator"})
	HeatmapSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_heatmap_skips_total",
		Help: "Heatmap round iterations skipped: empty heatmap, offset outside the input, or operator skipped.",
	})
	HavocIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_havoc_iterations_total",
		Help: "Fallback havoc mutation iterations run while no prediction was available.",
	})
	RewardScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rl_reward_score",
		Help:    "Distribution of emitted Reward.score values.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 16),
	})
	BridgeQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rl_bridge_queue_depth",
		Help: "Depth of the bridge's bounded task/result channels.",
	}, []string{"channel"})
	BridgeState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rl_bridge_state",
		Help: "0 = listening, 1 = active.",
	})
	CompressedEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_envelopes_compressed_total",
		Help: "Envelopes whose payload exceeded the compression threshold.",
	})
	UncompressedEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_envelopes_uncompressed_total",
		Help: "Envelopes sent below the compression threshold.",
	})
	BusActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rl_bus_active_clients",
		Help: "Current number of pub/sub fabric subscribers.",
	})
	BusFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rl_bus_fanout",
		Help: "Number of subscribers targeted in the most recent publish.",
	})
	BusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_bus_dropped_total",
		Help: "Events dropped due to a full subscriber queue under the drop policy.",
	})
	BusKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_bus_kicked_total",
		Help: "Subscribers disconnected due to a full queue under the kick policy.",
	})
	BusSelfFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_bus_self_filtered_total",
		Help: "Events withheld from their own publisher by the broker's self-filter.",
	})
	BrokerSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rl_broker_sessions_total",
		Help: "Total predictor sessions accepted by the broker.",
	})
	StageMaxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rl_stage_max_depth",
		Help: "Highest havoc mutation depth observed by any mutation stage.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead   = "tcp_read"
	ErrTCPWrite  = "tcp_write"
	ErrHandshake = "handshake"
	ErrSerialize = "serialize"
	ErrCompress  = "compress"
	ErrIllegal   = "illegal_state"
	ErrExecutor  = "executor"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at
// /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic log snapshots.
var (
	localRoundsStarted   uint64
	localRoundsCompleted uint64
	localNnDropped       uint64
	localHeatmapSkips    uint64
	localHavocIters      uint64
	localBusClients      uint64
	localBusFanout       uint64
	localBusDropped      uint64
	localBusKicked       uint64
	localBusSelf         uint64
	localBrokerSessions  uint64
	localErrors          uint64
	localCompressed      uint64
	localUncompressed    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RoundsStarted   uint64
	RoundsCompleted uint64
	NnDropped       uint64
	HeatmapSkips    uint64
	HavocIterations uint64
	BusClients      uint64
	BusFanout       uint64
	BusDropped      uint64
	BusKicked       uint64
	BusSelfFiltered uint64
	BrokerSessions  uint64
	Errors          uint64
	Compressed      uint64
	Uncompressed    uint64
}

func Snap() Snapshot {
	return Snapshot{
		RoundsStarted:   atomic.LoadUint64(&localRoundsStarted),
		RoundsCompleted: atomic.LoadUint64(&localRoundsCompleted),
		NnDropped:       atomic.LoadUint64(&localNnDropped),
		HeatmapSkips:    atomic.LoadUint64(&localHeatmapSkips),
		HavocIterations: atomic.LoadUint64(&localHavocIters),
		BusClients:      atomic.LoadUint64(&localBusClients),
		BusFanout:       atomic.LoadUint64(&localBusFanout),
		BusDropped:      atomic.LoadUint64(&localBusDropped),
		BusKicked:       atomic.LoadUint64(&localBusKicked),
		BusSelfFiltered: atomic.LoadUint64(&localBusSelf),
		BrokerSessions:  atomic.LoadUint64(&localBrokerSessions),
		Errors:          atomic.LoadUint64(&localErrors),
		Compressed:      atomic.LoadUint64(&localCompressed),
		Uncompressed:    atomic.LoadUint64(&localUncompressed),
	}
}

func IncRoundStarted() {
	RoundsStarted.Inc()
	atomic.AddUint64(&localRoundsStarted, 1)
}

func IncRoundCompleted() {
	RoundsCompleted.Inc()
	atomic.AddUint64(&localRoundsCompleted, 1)
}

func IncNnDropped() {
	NnDropped.Inc()
	atomic.AddUint64(&localNnDropped, 1)
}

func IncHeatmapHit(mutator string) {
	HeatmapHits.WithLabelValues(mutator).Inc()
}

func IncHeatmapSkip() {
	HeatmapSkips.Inc()
	atomic.AddUint64(&localHeatmapSkips, 1)
}

func AddHavocIterations(n int) {
	HavocIterations.Add(float64(n))
	atomic.AddUint64(&localHavocIters, uint64(n))
}

func ObserveReward(score float64) {
	RewardScore.Observe(score)
}

func SetBridgeQueueDepth(channel string, n int) {
	BridgeQueueDepth.WithLabelValues(channel).Set(float64(n))
}

// SetBridgeActive records 1 for the Active bridge state, 0 for Listening.
func SetBridgeActive(active bool) {
	if active {
		BridgeState.Set(1)
		return
	}
	BridgeState.Set(0)
}

func IncCompressed() {
	CompressedEnvelopes.Inc()
	atomic.AddUint64(&localCompressed, 1)
}

func IncUncompressed() {
	UncompressedEnvelopes.Inc()
	atomic.AddUint64(&localUncompressed, 1)
}

func SetBusClients(n int) {
	BusActiveClients.Set(float64(n))
	atomic.StoreUint64(&localBusClients, uint64(n))
}

func SetBusFanout(n int) {
	BusFanout.Set(float64(n))
	atomic.StoreUint64(&localBusFanout, uint64(n))
}

func IncBusDrop() {
	BusDropped.Inc()
	atomic.AddUint64(&localBusDropped, 1)
}

func IncBusKick() {
	BusKicked.Inc()
	atomic.AddUint64(&localBusKicked, 1)
}

func IncBusSelfFiltered() {
	BusSelfFiltered.Inc()
	atomic.AddUint64(&localBusSelf, 1)
}

func IncBrokerSession() {
	BrokerSessions.Inc()
	atomic.AddUint64(&localBrokerSessions, 1)
}

func SetStageMaxDepth(n int) {
	StageMaxDepth.Set(float64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers the error
// label series so the first error of each kind doesn't pay
// registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTCPRead, ErrTCPWrite, ErrHandshake, ErrSerialize, ErrCompress, ErrIllegal, ErrExecutor} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
