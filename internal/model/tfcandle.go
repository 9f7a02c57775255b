package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TFCandle represents a resampled OHLC candle for a dynamic timeframe.
// TF is the timeframe duration in seconds (e.g., 60 = 1 minute).
// All prices are in paise (int64) to avoid floating-point drift.
type TFCandle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`      // timeframe in seconds
	TS       time.Time `json:"ts"`      // bucket start time (UTC, TF-aligned)
	Open     int64     `json:"open"`    // paise
	High     int64     `json:"high"`    // paise
	Low      int64     `json:"low"`     // paise
	Close    int64     `json:"close"`   // paise
	Volume   int64     `json:"volume"`  // cumulative quantity
	Count    int       `json:"count"`   // number of 1s candles merged
	Forming  bool      `json:"forming"` // true if bucket is still open
}

// Key returns "exchange:token".
func (c *TFCandle) Key() string {
	return c.Exchange + ":" + c.Token
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{exchange}:{token}".
func (c *TFCandle) StreamKey() string {
	return "candle:" + Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Token
}

// JSON returns the JSON-encoded TF candle.
func (c *TFCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Field selects which candle price feeds shape detection.
type Field string

const (
	FieldHigh  Field = "high"
	FieldLow   Field = "low"
	FieldOpen  Field = "open"
	FieldClose Field = "close"
	FieldHLC3  Field = "hlc3"
)

// ParseField accepts the field names case-insensitively.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FieldHigh, FieldLow, FieldOpen, FieldClose, FieldHLC3:
		return f, nil
	}
	return "", fmt.Errorf("model: unknown candle field %q", s)
}

// Sample returns the selected price in rupees.
func (c *TFCandle) Sample(f Field) float64 {
	var p float64
	switch f {
	case FieldLow:
		p = float64(c.Low)
	case FieldOpen:
		p = float64(c.Open)
	case FieldClose:
		p = float64(c.Close)
	case FieldHLC3:
		p = float64(c.High+c.Low+c.Close) / 3
	default:
		p = float64(c.High)
	}
	return p / 100
}
