// Package bus implements the broker's internal pub/sub fabric:
// a multi-producer, tagged-message broadcast channel standing in for
// the fuzzing runtime's own shared-memory event bus. Every fuzzing
// worker and the predictor session publish and subscribe through the
// same Bus; the broker filters a subscriber's own messages out of its
// delivery so that forwarding the predictor's traffic back into the
// fabric never echoes onto the predictor's own socket.
//
// The implementation is a client registry guarded by a mutex, a
// snapshot-then-iterate broadcast, and a configurable drop-or-kick
// backpressure policy per subscriber.
package bus

import (
	"sync"

	"github.com/kstaniek/rl-fuzz-bridge/internal/metrics"
)

// BackpressurePolicy selects what happens when a subscriber's outbound
// queue is full.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Event is one message carried on the fabric: a fuzzing-runtime event
// (new-testcase, stats update, objective hit, log line) tagged with
// its publisher's client id and protocol flags.
type Event struct {
	ClientID uint32
	Tag      uint32
	Flags    uint16
	Payload  []byte
}

// Client is a subscriber's handle on the bus: an inbound queue plus a
// close signal the owning goroutine can observe.
type Client struct {
	ID        uint32
	Out       chan Event
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close marks the client closed; safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// Bus is the shared fabric. The zero value is not usable; use New.
type Bus struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates an empty Bus with default settings.
func New() *Bus {
	return &Bus{clients: make(map[*Client]struct{})}
}

// DefaultOutBufSize is the per-subscriber queue depth used when
// neither the caller nor the Bus configures one.
const DefaultOutBufSize = 256

// Subscribe registers a client under the given id and returns its
// handle. A bufSize <= 0 falls back to the Bus's OutBufSize. Multiple
// clients may share an id; self-filtering in Publish compares against
// whichever id the caller assigns.
func (b *Bus) Subscribe(id uint32, bufSize int) *Client {
	if bufSize <= 0 {
		bufSize = b.OutBufSize
	}
	if bufSize <= 0 {
		bufSize = DefaultOutBufSize
	}
	c := &Client{ID: id, Out: make(chan Event, bufSize), Closed: make(chan struct{})}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	metrics.SetBusClients(b.Count())
	return c
}

// Unsubscribe removes a client; safe to call multiple times.
func (b *Bus) Unsubscribe(c *Client) {
	b.mu.Lock()
	_, existed := b.clients[c]
	if existed {
		delete(b.clients, c)
	}
	cur := len(b.clients)
	b.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	if existed {
		metrics.SetBusClients(cur)
	}
}

// Publish delivers ev to every subscriber except the one whose ID
// equals ev.ClientID, implementing the broker's self-filter
// requirement: a publisher never receives its own message back.
func (b *Bus) Publish(ev Event) {
	clients := b.Snapshot()
	delivered := 0
	for _, c := range clients {
		if c.ID == ev.ClientID {
			metrics.IncBusSelfFiltered()
			continue
		}
		select {
		case c.Out <- ev:
			delivered++
		default:
			if b.Policy == PolicyKick {
				metrics.IncBusKick()
				c.Close()
			} else {
				metrics.IncBusDrop()
			}
		}
	}
	metrics.SetBusFanout(delivered)
}

// Snapshot returns a point-in-time copy of the subscriber set.
func (b *Bus) Snapshot() []*Client {
	b.mu.RLock()
	out := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		out = append(out, c)
	}
	b.mu.RUnlock()
	return out
}

// Count returns the number of active subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	n := len(b.clients)
	b.mu.RUnlock()
	return n
}
