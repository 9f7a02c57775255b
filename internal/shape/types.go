package shape

import (
	"fmt"
	"math"
)

// NoIndex marks an unset or retired index. It sits below every real index,
// relative ones included, since a reference may trail the window base.
const NoIndex = math.MinInt

// Kind is the sign of an extremum.
type Kind int

const (
	Max Kind = iota
	Min
)

func (k Kind) String() string {
	if k == Min {
		return "MIN"
	}
	return "MAX"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "MAX":
		*k = Max
	case "MIN":
		*k = Min
	default:
		return fmt.Errorf("shape: unknown kind %q", b)
	}
	return nil
}

// Direction of a breakout.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "DOWN"
	}
	return "UP"
}

// Sign returns +1 for Up and -1 for Down.
func (d Direction) Sign() int {
	if d == Down {
		return -1
	}
	return 1
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "UP":
		*d = Up
	case "DOWN":
		*d = Down
	default:
		return fmt.Errorf("shape: unknown direction %q", b)
	}
	return nil
}

// State of the breakout machine.
type State int

const (
	StateIdle State = iota // waiting for the first MAX and MIN key points
	StateNone
	StateBreakUp
	StateBreakDown
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateBreakUp:
		return "BREAK_UP"
	case StateBreakDown:
		return "BREAK_DOWN"
	default:
		return "IDLE"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "IDLE":
		*s = StateIdle
	case "NONE":
		*s = StateNone
	case "BREAK_UP":
		*s = StateBreakUp
	case "BREAK_DOWN":
		*s = StateBreakDown
	default:
		return fmt.Errorf("shape: unknown state %q", b)
	}
	return nil
}

// Candidate is an unconfirmed local extremum of the smoothed series.
// [Lo, Hi) is the scan window it was found in; Conf = Hi-1 is the first
// step at which that window is fully materialized.
type Candidate struct {
	Index int  `json:"index"`
	Kind  Kind `json:"kind"`
	Lo    int  `json:"lo"`
	Hi    int  `json:"hi"`
	Conf  int  `json:"conf"`
}

// KeyPoint is a validated extremum on the raw series.
type KeyPoint struct {
	Index     int     `json:"index"` // raw index after lag compensation
	Kind      Kind    `json:"kind"`
	Value     float64 `json:"value"`
	Candidate int     `json:"candidate"` // smoothed-space index it came from
	Conf      int     `json:"conf"`
}

// Breakout is a threshold crossing relative to the opposite reference.
type Breakout struct {
	Index     int       `json:"index"`
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`
	Reference int       `json:"reference"` // key point index the threshold came from
	Threshold float64   `json:"threshold"`
}

// SignalSet is the output of one Ingest call.
type SignalSet struct {
	Index     int        `json:"index"` // virtual index of the ingested sample
	Breakouts []Breakout `json:"breakouts,omitempty"`
	KeyPoints []KeyPoint `json:"key_points,omitempty"`
	Signal    int        `json:"signal"` // +1/-1 for a breakout at Index, else 0
}

// Empty reports whether the tick produced nothing.
func (s SignalSet) Empty() bool {
	return len(s.Breakouts) == 0 && len(s.KeyPoints) == 0
}
