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
	predictorAddr   string
	fleetAddr       string
	bindPublic      bool
	handshakeTO     time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	busBuffer       int
	busPolicy       string
	ecSize          uint64
	instances       uint
	fuzzTarget      string
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	predictorPort := flag.Int("predictor-port", 7878, "TCP port the predictor connects to")
	fleetPort := flag.Int("fleet-port", 1337, "TCP port fuzzing workers connect to")
	bindPublic := flag.Bool("bind-public", false, "Bind 0.0.0.0 instead of 127.0.0.1")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Handshake and per-round read timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	busBuffer := flag.Int("bus-buffer", 256, "Per-subscriber pub/sub fabric buffer size")
	busPolicy := flag.String("bus-policy", "drop", "Backpressure policy: drop|kick")
	ecSize := flag.Uint64("ec-size", 65536, "Coverage map size advertised to the predictor")
	instances := flag.Uint("instances", 1, "Fuzzer instance count advertised to the predictor")
	fuzzTarget := flag.String("fuzz-target", "demo", "Fuzz target name advertised to the predictor")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the predictor port")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default rl-broker-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	bindHost := "127.0.0.1"
	if *bindPublic {
		bindHost = "0.0.0.0"
	}
	cfg.predictorAddr = fmt.Sprintf("%s:%d", bindHost, *predictorPort)
	cfg.fleetAddr = fmt.Sprintf("%s:%d", bindHost, *fleetPort)
	cfg.bindPublic = *bindPublic
	cfg.handshakeTO = *handshakeTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.busBuffer = *busBuffer
	cfg.busPolicy = *busPolicy
	cfg.ecSize = *ecSize
	cfg.instances = *instances
	cfg.fuzzTarget = *fuzzTarget
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

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
	switch c.busPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid bus-policy: %s", c.busPolicy)
	}
	if c.busBuffer <= 0 {
		return fmt.Errorf("bus-buffer must be > 0 (got %d)", c.busBuffer)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.predictorAddr == c.fleetAddr {
		return fmt.Errorf("predictor-port and fleet-port must differ")
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
				c.predictorAddr = fmt.Sprintf("%s:%d", bindHost, n)
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_PREDICTOR_PORT: %w", err)
			}
		}
	}
	if _, ok := set["fleet-port"]; !ok {
		if v, ok := get("RL_BRIDGE_FLEET_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.fleetAddr = fmt.Sprintf("%s:%d", bindHost, n)
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_FLEET_PORT: %w", err)
			}
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
	if _, ok := set["bus-buffer"]; !ok {
		if v, ok := get("RL_BRIDGE_BUS_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.busBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_BUS_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["bus-policy"]; !ok {
		if v, ok := get("RL_BRIDGE_BUS_POLICY"); ok && v != "" {
			c.busPolicy = v
		}
	}
	if _, ok := set["ec-size"]; !ok {
		if v, ok := get("RL_BRIDGE_EC_SIZE"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
				c.ecSize = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RL_BRIDGE_EC_SIZE: %w", err)
			}
		}
	}
	if _, ok := set["fuzz-target"]; !ok {
		if v, ok := get("RL_BRIDGE_FUZZ_TARGET"); ok && v != "" {
			c.fuzzTarget = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("RL_BRIDGE_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("RL_BRIDGE_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
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
