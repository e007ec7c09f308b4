// Package passive implements the passive handshake and protocol: the
// broker-facing side channel where the predictor connects to the
// broker's predictor port, and the broker's forwarding loop moves
// pub/sub fabric events across that same link.
//
// Messages travel as a tagged union over internal/wire's primitive
// encoder/decoder, the same framing the active protocol uses.
package passive

import (
	"fmt"

	"github.com/kstaniek/rl-fuzz-bridge/internal/wire"
)

const (
	tagFuzzerHello byte = 1 // broker -> predictor
	tagNnHello     byte = 2 // predictor -> broker
	tagAccepted    byte = 3 // broker -> predictor
	tagError       byte = 4 // either direction
	tagNewMessage  byte = 5 // either direction, steady state
)

// FuzzerDescription is the static information the broker offers the
// predictor about the fuzzing runtime it is coaching.
type FuzzerDescription struct {
	ECSize     uint64
	Instances  uint32
	FuzzTarget string
}

// FuzzerHello opens the passive handshake from the broker side.
type FuzzerHello struct{ Description FuzzerDescription }

// NnHello is the predictor's reply, naming itself and its version.
type NnHello struct {
	NnName    string
	NnVersion string
}

// Accepted closes the handshake, assigning the predictor its pub/sub
// client identity.
type Accepted struct{ ClientID uint32 }

// Error aborts a handshake or session in progress.
type Error struct{ Description string }

// NewMessage carries one pub/sub fabric event across the link, in
// either direction, after the handshake completes.
type NewMessage struct {
	ClientID uint32
	Tag      uint32
	Flags    uint16
	Payload  []byte
}

func (h FuzzerHello) encode() []byte {
	e := wire.NewEncoder(tagFuzzerHello)
	e.PutUint64(h.Description.ECSize)
	e.PutUint32(h.Description.Instances)
	e.PutString(h.Description.FuzzTarget)
	return e.Bytes()
}

func (h NnHello) encode() []byte {
	e := wire.NewEncoder(tagNnHello)
	e.PutString(h.NnName)
	e.PutString(h.NnVersion)
	return e.Bytes()
}

func (a Accepted) encode() []byte {
	e := wire.NewEncoder(tagAccepted)
	e.PutUint32(a.ClientID)
	return e.Bytes()
}

func (er Error) encode() []byte {
	e := wire.NewEncoder(tagError)
	e.PutString(er.Description)
	return e.Bytes()
}

func (m NewMessage) encode() []byte {
	e := wire.NewEncoder(tagNewMessage)
	e.PutUint32(m.ClientID)
	e.PutUint32(m.Tag)
	e.PutUint16(m.Flags)
	e.PutBytes(m.Payload)
	return e.Bytes()
}

// Encode serializes any passive-protocol message.
func Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case FuzzerHello:
		return m.encode(), nil
	case NnHello:
		return m.encode(), nil
	case Accepted:
		return m.encode(), nil
	case Error:
		return m.encode(), nil
	case NewMessage:
		return m.encode(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported passive message %T", wire.ErrIllegal, msg)
	}
}

// Decode parses any passive-protocol message.
func Decode(raw []byte) (any, error) {
	tag, err := wire.Tag(raw)
	if err != nil {
		return nil, err
	}
	d := wire.NewDecoder(raw)
	if err := d.Skip(1); err != nil {
		return nil, err
	}
	switch tag {
	case tagFuzzerHello:
		ec, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		instances, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		target, err := d.String()
		if err != nil {
			return nil, err
		}
		return FuzzerHello{Description: FuzzerDescription{ECSize: ec, Instances: instances, FuzzTarget: target}}, nil
	case tagNnHello:
		name, err := d.String()
		if err != nil {
			return nil, err
		}
		version, err := d.String()
		if err != nil {
			return nil, err
		}
		return NnHello{NnName: name, NnVersion: version}, nil
	case tagAccepted:
		id, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		return Accepted{ClientID: id}, nil
	case tagError:
		desc, err := d.String()
		if err != nil {
			return nil, err
		}
		return Error{Description: desc}, nil
	case tagNewMessage:
		clientID, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		t, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		flags, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		payload, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		return NewMessage{ClientID: clientID, Tag: t, Flags: flags, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: unknown passive tag %d", wire.ErrIllegal, tag)
	}
}
