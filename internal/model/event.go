package model

import (
	"encoding/json"
	"time"
)

// EventType distinguishes the two kinds of shape output.
type EventType string

const (
	EventBreakout EventType = "breakout"
	EventKeyPoint EventType = "keypoint"
)

// ShapeEvent is one breakout or confirmed key point for an instrument and TF.
// Index is the virtual sample index the event refers to; Step is the index of
// the candle whose ingest produced it. Breakouts found over older data have
// Index < Step.
type ShapeEvent struct {
	Type      EventType `json:"type"`
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	TF        int       `json:"tf"`
	TS        time.Time `json:"ts"` // timestamp of the candle at Step
	Index     int       `json:"index"`
	Step      int       `json:"step"`
	Direction string    `json:"direction,omitempty"` // UP, DOWN (breakouts)
	Kind      string    `json:"kind,omitempty"`      // MAX, MIN (key points)
	Price     float64   `json:"price"`               // rupees
	Reference int       `json:"reference,omitempty"` // key point index the threshold came from
	Threshold float64   `json:"threshold,omitempty"`
	Live      bool      `json:"live"` // breakout at the newest sample
	TraceID   string    `json:"trace_id,omitempty"`
}

// Key returns "exchange:token".
func (e *ShapeEvent) Key() string {
	return e.Exchange + ":" + e.Token
}

// StreamKey returns the Redis stream key: "shape:{type}:{TF}s:{exchange}:{token}".
func (e *ShapeEvent) StreamKey() string {
	return "shape:" + string(e.Type) + ":" + Itoa(e.TF) + "s:" + e.Exchange + ":" + e.Token
}

// PubSubChannel returns the Redis Pub/Sub channel: "pub:shape:{TF}s:{exchange}:{token}".
func (e *ShapeEvent) PubSubChannel() string {
	return "pub:shape:" + Itoa(e.TF) + "s:" + e.Exchange + ":" + e.Token
}

// LatestKey returns the Redis key holding the newest event of this type.
func (e *ShapeEvent) LatestKey() string {
	return "shape:" + string(e.Type) + ":" + Itoa(e.TF) + "s:latest:" + e.Exchange + ":" + e.Token
}

// JSON returns the JSON-encoded event.
func (e *ShapeEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
