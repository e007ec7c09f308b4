// Package rlproto implements the active handshake and round-exchange
// protocol: the side channel between one fuzzing worker and the
// predictor, where the worker listens and the predictor connects.
//
// Messages travel as a tagged union over internal/wire's primitive
// encoder/decoder; the worker side additionally enforces the round
// state machine in Session.
package rlproto

import (
	"fmt"

	"github.com/kstaniek/rl-fuzz-bridge/internal/wire"
)

// Handshake message tags.
const (
	tagHello    byte = 1 // sent by both sides, disambiguated by direction
	tagAccepted byte = 2
	tagHsError  byte = 3
)

// Round message tags.
const (
	tagPredict        byte = 10
	tagHeatMap        byte = 11
	tagMapAfterMutate byte = 12
	tagReward         byte = 13
	tagRoundError     byte = 14
)

// Hello is sent by both sides during handshake, carrying the sender's
// name (worker identity on the worker side, predictor name otherwise).
type Hello struct{ Name string }

// Accepted closes a successful handshake.
type Accepted struct{}

// HsError aborts a handshake in progress.
type HsError struct{ Description string }

func (h Hello) encode() []byte {
	e := wire.NewEncoder(tagHello)
	e.PutString(h.Name)
	return e.Bytes()
}

func (Accepted) encode() []byte {
	return wire.NewEncoder(tagAccepted).Bytes()
}

func (e HsError) encode() []byte {
	enc := wire.NewEncoder(tagHsError)
	enc.PutString(e.Description)
	return enc.Bytes()
}

// DecodeHandshake parses one handshake-phase message.
func DecodeHandshake(raw []byte) (any, error) {
	tag, err := wire.Tag(raw)
	if err != nil {
		return nil, err
	}
	d := wire.NewDecoder(raw)
	if err := d.Skip(1); err != nil {
		return nil, err
	}
	switch tag {
	case tagHello:
		name, err := d.String()
		if err != nil {
			return nil, err
		}
		return Hello{Name: name}, nil
	case tagAccepted:
		return Accepted{}, nil
	case tagHsError:
		desc, err := d.String()
		if err != nil {
			return nil, err
		}
		return HsError{Description: desc}, nil
	default:
		return nil, fmt.Errorf("%w: unknown handshake tag %d", wire.ErrIllegal, tag)
	}
}

// EncodeHandshake serializes a handshake-phase message.
func EncodeHandshake(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case Hello:
		return m.encode(), nil
	case Accepted:
		return m.encode(), nil
	case HsError:
		return m.encode(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported handshake message %T", wire.ErrIllegal, msg)
	}
}

// Predict opens a round: the worker ships the candidate input and its
// baseline coverage map and waits for a heatmap.
type Predict struct {
	ID    uint64
	Input []byte
	Map   []byte
}

// HeatMap answers an open round with predictor-chosen byte offsets.
type HeatMap struct {
	ID   uint64
	Idxs []uint32
}

// MapAfterMutation reports one mutated sample's resulting coverage.
// Input is empty when diagnostics are disabled.
type MapAfterMutation struct {
	ID    uint64
	Input []byte
	Map   []byte
}

// Reward closes a round with the mean coverage delta.
type Reward struct {
	ID    uint64
	Score float64
}

// RoundError is an advisory message sent by either side.
type RoundError struct{ Description string }

func (p Predict) encode() []byte {
	e := wire.NewEncoder(tagPredict)
	e.PutUint64(p.ID)
	e.PutBytes(p.Input)
	e.PutBytes(p.Map)
	return e.Bytes()
}

func (h HeatMap) encode() []byte {
	e := wire.NewEncoder(tagHeatMap)
	e.PutUint64(h.ID)
	e.PutUint32Slice(h.Idxs)
	return e.Bytes()
}

func (m MapAfterMutation) encode() []byte {
	e := wire.NewEncoder(tagMapAfterMutate)
	e.PutUint64(m.ID)
	e.PutBytes(m.Input)
	e.PutBytes(m.Map)
	return e.Bytes()
}

func (r Reward) encode() []byte {
	e := wire.NewEncoder(tagReward)
	e.PutUint64(r.ID)
	e.PutFloat64(r.Score)
	return e.Bytes()
}

func (r RoundError) encode() []byte {
	e := wire.NewEncoder(tagRoundError)
	e.PutString(r.Description)
	return e.Bytes()
}

// Encode serializes any round-phase message.
func Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case Predict:
		return m.encode(), nil
	case HeatMap:
		return m.encode(), nil
	case MapAfterMutation:
		return m.encode(), nil
	case Reward:
		return m.encode(), nil
	case RoundError:
		return m.encode(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported round message %T", wire.ErrIllegal, msg)
	}
}

// Decode parses any round-phase message.
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
	case tagPredict:
		id, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		input, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		m, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		return Predict{ID: id, Input: input, Map: m}, nil
	case tagHeatMap:
		id, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		idxs, err := d.Uint32Slice()
		if err != nil {
			return nil, err
		}
		return HeatMap{ID: id, Idxs: idxs}, nil
	case tagMapAfterMutate:
		id, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		input, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		m, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		return MapAfterMutation{ID: id, Input: input, Map: m}, nil
	case tagReward:
		id, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		score, err := d.Float64()
		if err != nil {
			return nil, err
		}
		return Reward{ID: id, Score: score}, nil
	case tagRoundError:
		desc, err := d.String()
		if err != nil {
			return nil, err
		}
		return RoundError{Description: desc}, nil
	default:
		return nil, fmt.Errorf("%w: unknown round tag %d", wire.ErrIllegal, tag)
	}
}
