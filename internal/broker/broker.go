// Package broker implements the broker/fleet connector:
// a dual TCP listener multiplexing the predictor's single session and
// any number of fuzzing-worker "fleet" sessions onto the shared
// internal/bus pub/sub fabric.
//
// Each listener runs an Accept loop handing every connection to a
// dedicated goroutine. Predictor connections run the passive handshake
// before admission; fleet connections are admitted without one. Both
// then run a strict alternation of one outbound drain and one inbound
// read with the read timeout absorbed, so a silent peer never stalls
// outbound progress.
package broker

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/bus"
	"github.com/kstaniek/rl-fuzz-bridge/internal/logging"
	"github.com/kstaniek/rl-fuzz-bridge/internal/metrics"
	"github.com/kstaniek/rl-fuzz-bridge/internal/passive"
	"github.com/kstaniek/rl-fuzz-bridge/internal/wire"
)

// CompressionThreshold is the passive-protocol gzip threshold.
const CompressionThreshold = 1024

// predictorClientID is the pub/sub identity the broker publishes
// predictor traffic under; fleet workers are assigned ids above it.
const predictorClientID uint32 = 0

// ErrPredictorBusy classifies a second predictor connection arriving
// while one session is already active: at most one predictor session
// exists per broker instance.
var ErrPredictorBusy = errors.New("broker: predictor session already active")

// Hooks let a caller observe broker session lifecycle without coupling
// the broker to any particular fuzzing runtime.
type Hooks struct {
	OnPredictorConnected func(name string)
	OnPredictorLost      func(error)
	OnFleetJoined        func(clientID uint32)
	OnFleetLeft          func(clientID uint32, err error)
}

// Broker owns the predictor listener, the fleet listener, and the
// pub/sub fabric they both multiplex onto.
type Broker struct {
	predictorAddr string
	fleetAddr     string
	desc          passive.FuzzerDescription
	timeout       time.Duration
	hooks         Hooks
	bus           bus.EventBus

	predictorLn net.Listener
	fleetLn     net.Listener

	predictorActive atomic.Bool
	nextFleetID     atomic.Uint32

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New builds a Broker over an already-constructed EventBus (so a
// caller can share one fabric across a broker and any in-process
// diagnostics).
func New(predictorAddr, fleetAddr string, desc passive.FuzzerDescription, timeout time.Duration, eventBus bus.EventBus, hooks Hooks) *Broker {
	return &Broker{
		predictorAddr: predictorAddr,
		fleetAddr:     fleetAddr,
		desc:          desc,
		timeout:       timeout,
		bus:           eventBus,
		hooks:         hooks,
	}
}

// Start binds both listeners and launches their accept loops.
func (br *Broker) Start() error {
	br.nextFleetID.Store(predictorClientID + 1)

	pln, err := net.Listen("tcp", br.predictorAddr)
	if err != nil {
		return fmt.Errorf("broker: listen predictor: %w", err)
	}
	br.predictorLn = pln

	fln, err := net.Listen("tcp", br.fleetAddr)
	if err != nil {
		_ = pln.Close()
		return fmt.Errorf("broker: listen fleet: %w", err)
	}
	br.fleetLn = fln

	br.wg.Add(2)
	go br.acceptPredictors()
	go br.acceptFleet()
	return nil
}

// PredictorAddr reports the bound predictor-listener address.
func (br *Broker) PredictorAddr() string { return br.predictorLn.Addr().String() }

// FleetAddr reports the bound fleet-listener address.
func (br *Broker) FleetAddr() string { return br.fleetLn.Addr().String() }

// Close stops accepting connections and waits for both accept loops to exit.
func (br *Broker) Close() {
	if br.closed.Swap(true) {
		return
	}
	_ = br.predictorLn.Close()
	_ = br.fleetLn.Close()
	br.wg.Wait()
}

func (br *Broker) acceptPredictors() {
	defer br.wg.Done()
	for {
		conn, err := br.predictorLn.Accept()
		if err != nil {
			if br.closed.Load() {
				return
			}
			continue
		}
		if !br.predictorActive.CompareAndSwap(false, true) {
			metrics.IncError(metrics.ErrHandshake)
			logging.L().Warn("predictor_rejected_busy", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}
		go br.servePredictor(conn)
	}
}

func (br *Broker) servePredictor(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		br.predictorActive.Store(false)
	}()

	hello, err := passive.Handshake(conn, br.desc, predictorClientID, br.timeout)
	if err != nil {
		metrics.IncError(metrics.ErrHandshake)
		logging.L().Warn("predictor_handshake_failed", "error", err)
		return
	}
	metrics.IncBrokerSession()
	logging.L().Info("predictor_connected", "name", hello.NnName, "version", hello.NnVersion)
	if br.hooks.OnPredictorConnected != nil {
		br.hooks.OnPredictorConnected(hello.NnName)
	}

	client := br.bus.Subscribe(predictorClientID, 0)
	defer br.bus.Unsubscribe(client)

	for !br.closed.Load() {
		if err := br.forwardOnce(conn, client, predictorClientID, true); err != nil {
			logging.L().Warn("broker_forward_error", "error", err)
			if br.hooks.OnPredictorLost != nil {
				br.hooks.OnPredictorLost(err)
			}
			return
		}
	}
}

func (br *Broker) acceptFleet() {
	defer br.wg.Done()
	for {
		conn, err := br.fleetLn.Accept()
		if err != nil {
			if br.closed.Load() {
				return
			}
			continue
		}
		id := br.nextFleetID.Add(1) - 1
		go br.serveFleet(conn, id)
	}
}

func (br *Broker) serveFleet(conn net.Conn, clientID uint32) {
	defer func() { _ = conn.Close() }()
	logging.L().Info("fleet_joined", "client_id", clientID, "remote", conn.RemoteAddr().String())
	if br.hooks.OnFleetJoined != nil {
		br.hooks.OnFleetJoined(clientID)
	}

	client := br.bus.Subscribe(clientID, 0)
	defer br.bus.Unsubscribe(client)

	var lastErr error
	for !br.closed.Load() {
		if err := br.forwardOnce(conn, client, clientID, false); err != nil {
			lastErr = err
			break
		}
	}
	logging.L().Info("fleet_left", "client_id", clientID, "error", lastErr)
	if br.hooks.OnFleetLeft != nil {
		br.hooks.OnFleetLeft(clientID, lastErr)
	}
}

// forwardOnce runs one iteration of the strict-alternation forwarding
// loop: drain at most one pending fabric event outbound
// to the peer, then attempt one inbound framed read bounded by the
// session timeout, treating a timeout as "nothing arrived this tick"
// rather than a fatal error. taggingFromNN marks inbound messages with
// the FROM_NN flag before republishing them, matching the predictor
// session; fleet sessions never set it.
func (br *Broker) forwardOnce(conn net.Conn, client *bus.Client, clientID uint32, taggingFromNN bool) error {
	select {
	case ev, ok := <-client.Out:
		if !ok {
			return fmt.Errorf("broker: bus client closed")
		}
		if err := br.sendNewMessage(conn, ev); err != nil {
			return err
		}
	default:
	}

	raw, err := wire.ReadFrame(conn, br.timeout)
	if err != nil {
		if errors.Is(err, wire.ErrNotAvail) {
			return nil
		}
		return err
	}
	if raw == nil {
		return nil
	}
	env, err := wire.UnmarshalEnvelope(raw)
	if err != nil {
		return err
	}
	inner, err := env.Unpack()
	if err != nil {
		return err
	}
	msg, err := passive.Decode(inner)
	if err != nil {
		return err
	}
	nm, ok := msg.(passive.NewMessage)
	if !ok {
		return fmt.Errorf("broker: unexpected message %T on forward loop", msg)
	}
	if taggingFromNN {
		nm.Flags |= uint16(wire.FromNN)
	}
	br.bus.Publish(bus.Event{ClientID: clientID, Tag: nm.Tag, Flags: nm.Flags, Payload: nm.Payload})
	return nil
}

func (br *Broker) sendNewMessage(conn net.Conn, ev bus.Event) error {
	raw, err := passive.Encode(passive.NewMessage{ClientID: ev.ClientID, Tag: ev.Tag, Flags: ev.Flags, Payload: ev.Payload})
	if err != nil {
		return err
	}
	env, err := wire.Pack(raw, CompressionThreshold)
	if err != nil {
		return err
	}
	if env.Flags&wire.Compressed != 0 {
		metrics.IncCompressed()
	} else {
		metrics.IncUncompressed()
	}
	return wire.WriteFrame(conn, env.Marshal())
}
