// Package discovery advertises the broker's predictor-facing port over
// mDNS so a predictor process on the LAN can find it without a
// hardcoded address.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service name a predictor would browse for.
const ServiceType = "_rl-fuzz-bridge._tcp"

// Advertise registers instance under ServiceType on port and returns a
// cleanup function; it is a no-op-safe pattern (call cleanup exactly
// once, typically on ctx cancellation).
func Advertise(ctx context.Context, instance string, port int, meta []string) (func(), error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("rl-broker-%s", host)
	}
	svc, err := zeroconf.Register(instance, ServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
