// Package strategy turns shape events into trading signals.
//
// A Strategy receives shape events (breakouts, key points) and emits trading
// signals (BUY/SELL/EXIT). The Engine manages registration and event
// routing. Order routing is left to the consumer of Signals.
package strategy

import (
	"time"

	"shapefinder/internal/model"
)

// Signal represents a trading signal emitted by a strategy.
type Signal struct {
	StrategyName string    `json:"strategy_name"`
	Action       Action    `json:"action"` // BUY, SELL, EXIT
	Token        string    `json:"token"`
	Exchange     string    `json:"exchange"`
	TF           int       `json:"tf"`
	TS           time.Time `json:"ts"`
	Qty          int64     `json:"qty"`
	Price        int64     `json:"price"`     // 0 = market order
	RefPrice     float64   `json:"ref_price"` // rupees, price of the triggering sample
	Reason       string    `json:"reason"`
}

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionExit Action = "EXIT"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnEvent is called for each shape event in arrival order.
	// Return a Signal if the strategy wants to act, or nil to skip.
	OnEvent(ev model.ShapeEvent) *Signal
}

// Engine manages registered strategies and routes shape events to them.
type Engine struct {
	strategies []Strategy
}

// NewEngine creates a new strategy engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Process routes one event to every strategy and returns their signals.
func (e *Engine) Process(ev model.ShapeEvent) []Signal {
	var out []Signal
	for _, s := range e.strategies {
		if sig := s.OnEvent(ev); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}
