package passive

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/wire"
)

// ErrHandshake wraps any failure during the broker-side passive
// handshake, classified via errors.Is.
var ErrHandshake = errors.New("passive: handshake")

// Handshake runs the broker side of the passive handshake: the
// broker announces its FuzzerDescription, the predictor answers with
// its name/version, and the broker assigns it the pub/sub client
// identity clientID via Accepted.
func Handshake(conn net.Conn, desc FuzzerDescription, clientID uint32, timeout time.Duration) (NnHello, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return NnHello{}, fmt.Errorf("%w: set deadline: %v", ErrHandshake, err)
	}
	defer conn.SetDeadline(time.Time{})

	if err := send(conn, FuzzerHello{Description: desc}); err != nil {
		return NnHello{}, fmt.Errorf("%w: send fuzzer hello: %v", ErrHandshake, err)
	}

	raw, err := wire.ReadFrame(conn, timeout)
	if err != nil {
		return NnHello{}, fmt.Errorf("%w: recv nn hello: %v", ErrHandshake, err)
	}
	msg, err := Decode(raw)
	if err != nil {
		return NnHello{}, fmt.Errorf("%w: decode nn hello: %v", ErrHandshake, err)
	}
	hello, ok := msg.(NnHello)
	if !ok {
		return NnHello{}, fmt.Errorf("%w: unexpected message %T while awaiting nn hello", ErrHandshake, msg)
	}

	if err := send(conn, Accepted{ClientID: clientID}); err != nil {
		return NnHello{}, fmt.Errorf("%w: send accepted: %v", ErrHandshake, err)
	}
	return hello, nil
}

func send(conn net.Conn, msg any) error {
	raw, err := Encode(msg)
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, raw)
}
