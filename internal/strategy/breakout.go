package strategy

import (
	"fmt"

	"shapefinder/internal/model"
)

// Position is the side currently held for one instrument/TF.
type Position int

const (
	Flat  Position = 0
	Long  Position = 1
	Short Position = -1
)

func (p Position) String() string {
	switch p {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// BreakoutStrategy goes long on an UP breakout and short on a DOWN
// breakout, flipping an opposite position in one order. Breakouts found
// behind the live edge are ignored unless LiveOnly is false.
type BreakoutStrategy struct {
	name     string
	qty      int64
	LiveOnly bool

	positions map[string]Position // tf:exchange:token
}

// NewBreakoutStrategy trades qty units per side.
func NewBreakoutStrategy(qty int64) *BreakoutStrategy {
	if qty <= 0 {
		qty = 1
	}
	return &BreakoutStrategy{
		name:      "Shape_Breakout",
		qty:       qty,
		LiveOnly:  true,
		positions: make(map[string]Position),
	}
}

func (s *BreakoutStrategy) Name() string {
	return s.name
}

func positionKey(ev *model.ShapeEvent) string {
	return model.Itoa(ev.TF) + ":" + ev.Key()
}

// Position returns the side held for an instrument on tf.
func (s *BreakoutStrategy) Position(exchange, token string, tf int) Position {
	return s.positions[model.Itoa(tf)+":"+model.InstrumentKey(exchange, token)]
}

func (s *BreakoutStrategy) OnEvent(ev model.ShapeEvent) *Signal {
	if ev.Type != model.EventBreakout || (s.LiveOnly && !ev.Live) {
		return nil
	}

	var want Position
	var action Action
	switch ev.Direction {
	case "UP":
		want, action = Long, ActionBuy
	case "DOWN":
		want, action = Short, ActionSell
	default:
		return nil
	}

	key := positionKey(&ev)
	cur := s.positions[key]
	if cur == want {
		return nil
	}

	qty := s.qty
	reason := fmt.Sprintf("breakout %s through %.2f", ev.Direction, ev.Threshold)
	if cur != Flat {
		// close the opposite side and open the new one
		qty *= 2
		reason += fmt.Sprintf(", flip from %s", cur)
	}
	s.positions[key] = want

	return &Signal{
		StrategyName: s.name,
		Action:       action,
		Token:        ev.Token,
		Exchange:     ev.Exchange,
		TF:           ev.TF,
		TS:           ev.TS,
		Qty:          qty,
		Price:        0, // market order
		RefPrice:     ev.Price,
		Reason:       reason,
	}
}

// Flatten returns EXIT signals for every open position and clears them.
func (s *BreakoutStrategy) Flatten() []Signal {
	var out []Signal
	for key, p := range s.positions {
		if p == Flat {
			continue
		}
		tf, ex, tok := splitPositionKey(key)
		out = append(out, Signal{
			StrategyName: s.name,
			Action:       ActionExit,
			Token:        tok,
			Exchange:     ex,
			TF:           tf,
			Qty:          s.qty,
			Reason:       "flatten " + p.String(),
		})
		delete(s.positions, key)
	}
	return out
}

func splitPositionKey(key string) (tf int, exchange, token string) {
	i := 0
	for i < len(key) && key[i] != ':' {
		tf = tf*10 + int(key[i]-'0')
		i++
	}
	rest := key[i+1:]
	for j := 0; j < len(rest); j++ {
		if rest[j] == ':' {
			return tf, rest[:j], rest[j+1:]
		}
	}
	return tf, "", rest
}
