package main

import (
	"testing"
	"time"
)

func validWorkerConfig() *appConfig {
	return &appConfig{
		listenAddr:  "127.0.0.1:7879",
		workerName:  "rl-worker-test",
		handshakeTO: 3 * time.Second,
		logFormat:   "text",
		logLevel:    "info",
		mapSize:     65536,
		seed:        1,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validWorkerConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badMapSize", func(c *appConfig) { c.mapSize = 0 }},
	}
	for _, tc := range tests {
		base := validWorkerConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
