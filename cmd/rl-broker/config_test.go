package main

import (
	"testing"
	"time"
)

func validBrokerConfig() *appConfig {
	return &appConfig{
		predictorAddr:   "127.0.0.1:7878",
		fleetAddr:       "127.0.0.1:1337",
		handshakeTO:     3 * time.Second,
		logFormat:       "text",
		logLevel:        "info",
		busBuffer:       256,
		busPolicy:       "drop",
		ecSize:          65536,
		instances:       1,
		fuzzTarget:      "demo",
		logMetricsEvery: 0,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validBrokerConfig().validate(); err != nil {
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
		{"badPolicy", func(c *appConfig) { c.busPolicy = "x" }},
		{"badBusBuf", func(c *appConfig) { c.busBuffer = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"samePorts", func(c *appConfig) { c.fleetAddr = c.predictorAddr }},
	}
	for _, tc := range tests {
		base := validBrokerConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
