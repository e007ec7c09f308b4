package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr       string
	bindPublic       bool
	workerName       string
	handshakeTO      time.Duration
	logFormat        string
	logLevel         string
	metricsAddr      string
	logMetricsEvery  time.Duration
	mapSize          int
	diagnosticInputs bool
	seed             int64
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	predictorPort := flag.Int("predictor-port", 7879, "TCP port the predictor dials to reach this worker")
	bindPublic := flag.Bool("bind-public", false, "Bind 0.0.0.0 instead of 127.0.0.1")
	workerName := flag.String("worker-name", "", "Name presented during the active handshake (default rl-worker-<hostname>)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Handshake and per-round read timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9101); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mapSize := flag.Int("map-size", 65536, "Coverage map size produced by the demo target")
	diagnosticInputs := flag.Bool("diagnostic-inputs", false, "Attach mutated bytes to MapAfterMutation messages")
	seed := flag.Int64("seed", 1, "PRNG seed for mutation choices")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	bindHost := "127.0.0.1"
	if *bindPublic {
		bindHost = "0.0.0.0"
	}
	cfg.listenAddr = fmt.Sprintf("%s:%d", bindHost, *predictorPort)
	cfg.bindPublic = *bindPublic
	cfg.workerName = *workerName
	if cfg.workerName == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.workerName = "rl-worker-" + h
		} else {
			cfg.workerName = "rl-worker"
		}
	}
	cfg.handshakeTO = *handshakeTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mapSize = *mapSize
	cfg.diagnosticInputs = *diagnosticInputs
	cfg.seed = *seed

	if err := applyEnvOverrides(cfg, setFlags, *bindPublic); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.mapSize <= 0 {
		return fmt.Errorf("map-size must be > 0")
	}
	return nil
}

// applyEnvOverrides maps RL_BRIDGE_* environment variables onto cfg,
// skipping any flag the user set explicitly (flag wins over env).
func applyEnvOverrides(c *appConfig, set map[string]struct{}, bindPublic bool) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	bindHost := "127.0.0.1"
	if bindPublic {
		bindHost = "0.0.0.0"
	}

	if _, ok := set["predictor-port"]; !ok {
		if v, ok := get("RL_BRIDGE_PREDICTOR_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.listenAddr = fmt.Sprintf("%s:%d", bindHost, n)
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_PREDICTOR_PORT: %w", err)
			}
		}
	}
	if _, ok := set["worker-name"]; !ok {
		if v, ok := get("RL_BRIDGE_WORKER_NAME"); ok && v != "" {
			c.workerName = v
		}
	}
	if _, ok := set["handshake-timeout"]; !ok {
		if v, ok := get("RL_BRIDGE_HANDSHAKE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.handshakeTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_HANDSHAKE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("RL_BRIDGE_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("RL_BRIDGE_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("RL_BRIDGE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["map-size"]; !ok {
		if v, ok := get("RL_BRIDGE_MAP_SIZE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.mapSize = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_MAP_SIZE: %w", err)
			}
		}
	}
	if _, ok := set["diagnostic-inputs"]; !ok {
		if v, ok := get("RL_BRIDGE_DIAGNOSTIC_INPUTS"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.diagnosticInputs = true
			case "0", "false", "no", "off":
				c.diagnosticInputs = false
			}
		}
	}
	if _, ok := set["seed"]; !ok {
		if v, ok := get("RL_BRIDGE_SEED"); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				c.seed = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_SEED: %w", err)
			}
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("RL_BRIDGE_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
