// Package portfolio paper-trades strategy signals: it fills them at the
// triggering price less simulated slippage, keeps signed positions per
// instrument and TF, and tracks realized P&L and equity drawdown.
//
// All prices are paise.
package portfolio

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"shapefinder/internal/model"
	"shapefinder/internal/strategy"
)

// ErrNoPrice is returned when a signal carries no price and the position
// has never been marked.
var ErrNoPrice = errors.New("portfolio: no price for fill")

// Fill is one simulated execution.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Signal   strategy.Signal `json:"signal"`
	TS       time.Time       `json:"ts"`
	Qty      int64           `json:"qty"`   // signed: positive buys, negative sells
	Price    int64           `json:"price"` // after slippage
	Slippage int64           `json:"slippage"`
	Realized int64           `json:"realized"`
}

type position struct {
	qty    int64
	avg    int64
	mark   int64
	markTS time.Time
}

func (p *position) unrealized() int64 {
	return (p.mark - p.avg) * p.qty
}

// Book is safe for concurrent use.
type Book struct {
	mu          sync.Mutex
	slippageBps int64
	positions   map[string]*position // tf:exchange:token
	fills       []Fill
	seq         int64

	realized    int64
	peakEquity  int64
	maxDrawdown int64
}

// NewBook creates a flat book. slippageBps is charged against every fill
// (5 = 0.05%).
func NewBook(slippageBps int64) *Book {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &Book{
		slippageBps: slippageBps,
		positions:   make(map[string]*position),
		fills:       make([]Fill, 0, 256),
	}
}

func bookKey(exchange, token string, tf int) string {
	return model.Itoa(tf) + ":" + model.InstrumentKey(exchange, token)
}

func (b *Book) pos(key string) *position {
	p, ok := b.positions[key]
	if !ok {
		p = &position{}
		b.positions[key] = p
	}
	return p
}

// Mark sets the latest price of an instrument on tf.
func (b *Book) Mark(exchange, token string, tf int, price int64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pos(bookKey(exchange, token, tf))
	p.mark, p.markTS = price, ts
	b.trackEquity()
}

// Fill executes sig. BUY and SELL trade sig.Qty; EXIT closes whatever is
// held. The fill price is sig.Price, else sig.RefPrice, else the last mark.
func (b *Book) Fill(sig strategy.Signal) (Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.pos(bookKey(sig.Exchange, sig.Token, sig.TF))
	price := sig.Price
	if price <= 0 && sig.RefPrice > 0 {
		price = int64(math.Round(sig.RefPrice * 100))
	}
	if price <= 0 {
		price = p.mark
	}
	if price <= 0 {
		return Fill{}, fmt.Errorf("%w: %s %s", ErrNoPrice, sig.Action, bookKey(sig.Exchange, sig.Token, sig.TF))
	}

	var qty int64
	switch sig.Action {
	case strategy.ActionBuy:
		qty = sig.Qty
	case strategy.ActionSell:
		qty = -sig.Qty
	case strategy.ActionExit:
		qty = -p.qty
	default:
		return Fill{}, fmt.Errorf("portfolio: unknown action %q", sig.Action)
	}
	if qty == 0 {
		return Fill{}, fmt.Errorf("portfolio: %s for zero quantity on %s", sig.Action, bookKey(sig.Exchange, sig.Token, sig.TF))
	}

	slip := price * b.slippageBps / 10000
	if qty > 0 {
		price += slip // buy higher
	} else {
		price -= slip // sell lower
	}

	realized := p.apply(qty, price)
	b.realized += realized
	b.seq++
	ts := sig.TS
	if ts.IsZero() {
		ts = p.markTS
	}
	f := Fill{
		OrderID:  fmt.Sprintf("PAPER-%d", b.seq),
		Signal:   sig,
		TS:       ts,
		Qty:      qty,
		Price:    price,
		Slippage: slip,
		Realized: realized,
	}
	b.fills = append(b.fills, f)
	b.trackEquity()
	return f, nil
}

// apply adds a signed quantity at price and returns the realized P&L of
// whatever part of it closed the existing position.
func (p *position) apply(qty, price int64) int64 {
	p.mark = price
	if qty == 0 {
		return 0
	}
	if p.qty == 0 || (p.qty > 0) == (qty > 0) {
		total := abs(p.qty) + abs(qty)
		p.avg = (p.avg*abs(p.qty) + price*abs(qty)) / total
		p.qty += qty
		return 0
	}

	closing := min64(abs(qty), abs(p.qty))
	sign := int64(1)
	if p.qty < 0 {
		sign = -1
	}
	realized := (price - p.avg) * closing * sign
	p.qty += qty
	switch {
	case p.qty == 0:
		p.avg = 0
	case (p.qty > 0) != (sign > 0):
		p.avg = price // flipped: the remainder opened at this fill
	}
	return realized
}

func (b *Book) trackEquity() {
	eq := b.realized
	for _, p := range b.positions {
		eq += p.unrealized()
	}
	if eq > b.peakEquity {
		b.peakEquity = eq
	}
	if dd := b.peakEquity - eq; dd > b.maxDrawdown {
		b.maxDrawdown = dd
	}
}

// Position returns the signed quantity held and its average price.
func (b *Book) Position(exchange, token string, tf int) (qty, avg int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[bookKey(exchange, token, tf)]; ok {
		return p.qty, p.avg
	}
	return 0, 0
}

// Fills returns a copy of every fill so far.
func (b *Book) Fills() []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// Summary is the book's P&L at the latest marks.
type Summary struct {
	Realized    int64 `json:"realized"`
	Unrealized  int64 `json:"unrealized"`
	Total       int64 `json:"total"`
	Fills       int   `json:"fills"`
	Open        int   `json:"open"`
	MaxDrawdown int64 `json:"max_drawdown"`
}

func (b *Book) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Summary{Realized: b.realized, Fills: len(b.fills), MaxDrawdown: b.maxDrawdown}
	for _, p := range b.positions {
		if p.qty == 0 {
			continue
		}
		s.Open++
		s.Unrealized += p.unrealized()
	}
	s.Total = s.Realized + s.Unrealized
	return s
}

// Log prints the summary in rupees.
func (s Summary) Log(prefix string) {
	log.Printf("[%s] P&L realized ₹%s unrealized ₹%s total ₹%s, %d fills, %d open, max drawdown ₹%s",
		prefix, Rupees(s.Realized), Rupees(s.Unrealized), Rupees(s.Total), s.Fills, s.Open, Rupees(s.MaxDrawdown))
}

// Rupees formats a paise amount exactly, with two decimals.
func Rupees(paise int64) string {
	return decimal.New(paise, -2).StringFixed(2)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
