package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := validWorkerConfig()

	os.Setenv("RL_BRIDGE_PREDICTOR_PORT", "9002")
	os.Setenv("RL_BRIDGE_WORKER_NAME", "worker-env")
	os.Setenv("RL_BRIDGE_HANDSHAKE_TIMEOUT", "5s")
	os.Setenv("RL_BRIDGE_DIAGNOSTIC_INPUTS", "true")
	os.Setenv("RL_BRIDGE_SEED", "42")
	t.Cleanup(func() {
		os.Unsetenv("RL_BRIDGE_PREDICTOR_PORT")
		os.Unsetenv("RL_BRIDGE_WORKER_NAME")
		os.Unsetenv("RL_BRIDGE_HANDSHAKE_TIMEOUT")
		os.Unsetenv("RL_BRIDGE_DIAGNOSTIC_INPUTS")
		os.Unsetenv("RL_BRIDGE_SEED")
	})

	if err := applyEnvOverrides(base, map[string]struct{}{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.listenAddr != "127.0.0.1:9002" {
		t.Fatalf("expected listen addr override, got %s", base.listenAddr)
	}
	if base.workerName != "worker-env" {
		t.Fatalf("expected workerName override, got %s", base.workerName)
	}
	if base.handshakeTO != 5*time.Second {
		t.Fatalf("expected handshakeTO 5s got %v", base.handshakeTO)
	}
	if !base.diagnosticInputs {
		t.Fatal("expected diagnosticInputs true")
	}
	if base.seed != 42 {
		t.Fatalf("expected seed 42 got %d", base.seed)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := validWorkerConfig()
	os.Setenv("RL_BRIDGE_WORKER_NAME", "worker-env")
	t.Cleanup(func() { os.Unsetenv("RL_BRIDGE_WORKER_NAME") })

	set := map[string]struct{}{"worker-name": {}}
	if err := applyEnvOverrides(base, set, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.workerName != "rl-worker-test" {
		t.Fatalf("flag-set worker-name must win over env, got %s", base.workerName)
	}
}

func TestApplyEnvOverrides_InvalidValue(t *testing.T) {
	base := validWorkerConfig()
	os.Setenv("RL_BRIDGE_MAP_SIZE", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("RL_BRIDGE_MAP_SIZE") })

	if err := applyEnvOverrides(base, map[string]struct{}{}, false); err == nil {
		t.Fatal("expected error for invalid map size")
	}
}
