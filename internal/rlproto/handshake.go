package rlproto

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/wire"
)

// Sentinel errors, wrapped at the detection site so callers can
// classify via errors.Is against them. The underlying cause is kept as
// text only, so errors.Is against the internal/wire sentinels does not
// match through them.
var (
	ErrHandshake = errors.New("rlproto: handshake")
	ErrSession   = errors.New("rlproto: session")
)

// Handshake runs the worker side of the active handshake: the
// worker sends Hello first, the predictor answers with its own Hello,
// and the worker replies Accepted unless priorName is set and differs
// from the predictor's name, in which case it sends Error and returns
// ErrHandshake so the caller can resume listening.
func Handshake(conn net.Conn, workerName, priorName string, timeout time.Duration) (peerName string, err error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("%w: set deadline: %v", ErrHandshake, err)
	}
	defer conn.SetDeadline(time.Time{})

	if err := sendHS(conn, Hello{Name: workerName}); err != nil {
		return "", fmt.Errorf("%w: send hello: %v", ErrHandshake, err)
	}

	raw, err := wire.ReadFrame(conn, timeout)
	if err != nil {
		return "", fmt.Errorf("%w: recv hello: %v", ErrHandshake, err)
	}
	msg, err := DecodeHandshake(raw)
	if err != nil {
		return "", fmt.Errorf("%w: decode hello: %v", ErrHandshake, err)
	}
	hello, ok := msg.(Hello)
	if !ok {
		return "", fmt.Errorf("%w: unexpected message %T while awaiting hello", ErrHandshake, msg)
	}

	if priorName != "" && priorName != hello.Name {
		_ = sendHS(conn, HsError{Description: "name mismatch, restart session"})
		return "", fmt.Errorf("%w: name mismatch (prior=%q got=%q)", ErrHandshake, priorName, hello.Name)
	}

	if err := sendHS(conn, Accepted{}); err != nil {
		return "", fmt.Errorf("%w: send accepted: %v", ErrHandshake, err)
	}
	return hello.Name, nil
}

func sendHS(conn net.Conn, msg any) error {
	raw, err := EncodeHandshake(msg)
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, raw)
}
