package shape

import (
	"fmt"
	"math"
)

// Machine is the breakout state machine. Indices are virtual.
type Machine struct {
	State     State
	KpUp      int
	KpDown    int
	Cursor    int
	UpPrice   float64
	DownPrice float64

	percent        float64
	tie            TiePolicy
	cursorAdvance  int
	ratchetAdvance int
	settle         int
}

// NewMachine returns an idle machine configured by cfg.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		State:          StateIdle,
		KpUp:           NoIndex,
		KpDown:         NoIndex,
		Cursor:         NoIndex,
		percent:        cfg.BreakPercent,
		tie:            cfg.TiePolicy,
		cursorAdvance:  cfg.CursorAdvance,
		ratchetAdvance: cfg.RatchetAdvance,
		settle:         cfg.ConfirmDelay(),
	}
}

const notFound = math.MaxInt

// prices is a read-only view of raw samples; vals[0] is virtual index base.
// Samples trimmed before base are reachable only through tail.
type prices struct {
	base int
	vals []float64
	tail *Tail
}

func (p prices) at(i int) float64 { return p.vals[i-p.base] }

// Step advances the machine through step t. keys holds every key point
// confirmed at or before t; fresh lists those confirmed exactly at t in
// index order. tail summarises samples trimmed before base and may be nil
// when nothing was trimmed. Breakouts are returned in index order.
func (m *Machine) Step(t int, base int, vals []float64, tail *Tail, keys *KeyIndex, fresh []KeyPoint) ([]Breakout, error) {
	px := prices{base: base, vals: vals, tail: tail}
	if err := m.check(px); err != nil {
		return nil, err
	}

	if m.State == StateIdle {
		for _, kp := range fresh {
			if kp.Kind == Max && m.KpUp == NoIndex {
				m.setUp(kp.Index, px.at(kp.Index))
			}
			if kp.Kind == Min && m.KpDown == NoIndex {
				m.setDown(kp.Index, px.at(kp.Index))
			}
		}
		if m.KpUp == NoIndex || m.KpDown == NoIndex {
			return nil, nil
		}
		m.Cursor = m.KpUp
		if m.KpDown > m.Cursor {
			m.Cursor = m.KpDown
		}
		m.State = StateNone
	}

	var out []Breakout
	for m.Cursor <= t {
		switch m.State {
		case StateNone:
			up := m.firstAbove(px, m.upThreshold(), t)
			down := m.firstBelow(px, m.downThreshold(), t)
			if up == notFound && down == notFound {
				m.Cursor = t + 1
				return out, nil
			}
			if down < up || (down == up && m.tie == TiePreferDown) {
				out = append(out, m.breakDown(px, down))
			} else {
				out = append(out, m.breakUp(px, up))
			}

		case StateBreakUp:
			down := m.firstBelow(px, m.downThreshold(), t)
			if q, ok := m.ratchet(keys, Min, m.KpDown); ok && q.Index < down {
				m.setDown(q.Index, px.at(q.Index))
				m.Cursor = q.Index
				continue
			}
			if down != notFound {
				out = append(out, m.breakDown(px, down))
				continue
			}
			m.settleCursor(t)
			return out, nil

		case StateBreakDown:
			up := m.firstAbove(px, m.upThreshold(), t)
			if q, ok := m.ratchet(keys, Max, m.KpUp); ok && q.Index < up {
				m.setUp(q.Index, px.at(q.Index))
				m.Cursor = q.Index
				continue
			}
			if up != notFound {
				out = append(out, m.breakUp(px, up))
				continue
			}
			m.settleCursor(t)
			return out, nil

		default:
			return out, fmt.Errorf("shape: machine in unexpected state %v", m.State)
		}
	}
	return out, nil
}

// ratchet finds the next key point of kind that may replace the reference
// ref. The search starts ratchetAdvance past the cursor, so advance 0 lets a
// key point sitting on the cursor qualify. A reference never replaces itself.
func (m *Machine) ratchet(keys *KeyIndex, kind Kind, ref int) (KeyPoint, bool) {
	return keys.NextOfKind(m.Cursor+m.ratchetAdvance, kind, ref)
}

// settleCursor moves the cursor up to the oldest index a key point still
// awaiting confirmation could occupy.
func (m *Machine) settleCursor(t int) {
	if c := t + 1 - m.settle; c > m.Cursor {
		m.Cursor = c
	}
}

func (m *Machine) setUp(i int, price float64) {
	m.KpUp, m.UpPrice = i, price
	if i == NoIndex {
		m.UpPrice = 0
	}
}

func (m *Machine) setDown(i int, price float64) {
	m.KpDown, m.DownPrice = i, price
	if i == NoIndex {
		m.DownPrice = 0
	}
}

func (m *Machine) upThreshold() float64   { return m.UpPrice * (1 + m.percent) }
func (m *Machine) downThreshold() float64 { return m.DownPrice * (1 - m.percent) }

func (m *Machine) firstAbove(px prices, thr float64, t int) int {
	for i := m.Cursor; i <= t; i++ {
		if px.at(i) > thr {
			return i
		}
	}
	return notFound
}

func (m *Machine) firstBelow(px prices, thr float64, t int) int {
	for i := m.Cursor; i <= t; i++ {
		if px.at(i) < thr {
			return i
		}
	}
	return notFound
}

// breakDown emits a DOWN breakout at i. The new up reference is the highest
// price between the broken low and i; the broken low is retired.
func (m *Machine) breakDown(px prices, i int) Breakout {
	b := Breakout{
		Index:     i,
		Direction: Down,
		Price:     px.at(i),
		Reference: m.KpDown,
		Threshold: m.downThreshold(),
	}
	m.setUp(argExtreme(px, m.KpDown, i, Max))
	m.setDown(NoIndex, 0)
	m.State = StateBreakDown
	m.Cursor = i + m.cursorAdvance
	return b
}

// breakUp mirrors breakDown.
func (m *Machine) breakUp(px prices, i int) Breakout {
	b := Breakout{
		Index:     i,
		Direction: Up,
		Price:     px.at(i),
		Reference: m.KpUp,
		Threshold: m.upThreshold(),
	}
	m.setDown(argExtreme(px, m.KpUp, i, Min))
	m.setUp(NoIndex, 0)
	m.State = StateBreakUp
	m.Cursor = i + m.cursorAdvance
	return b
}

// argExtreme returns the first index of the max (or min) over [lo, hi] and
// its price. The part of the range before px.base comes from the tail.
func argExtreme(px prices, lo, hi int, kind Kind) (int, float64) {
	best, bv := NoIndex, 0.0
	from := lo
	if lo < px.base {
		if e, ok := px.tail.first(lo, kind); ok {
			best, bv = e.Index, e.Value
		}
		from = px.base
	}
	for i := from; i <= hi; i++ {
		v := px.at(i)
		if best == NoIndex || (kind == Max && v > bv) || (kind == Min && v < bv) {
			best, bv = i, v
		}
	}
	return best, bv
}

// check verifies the cursor is inside the retained window and every live
// reference is either inside it or covered by the tail.
func (m *Machine) check(px prices) error {
	if m.Cursor != NoIndex && m.Cursor < px.base {
		return fmt.Errorf("%w: cursor=%d below base %d", ErrCheckpointInconsistent, m.Cursor, px.base)
	}
	for _, ref := range []struct {
		name string
		v    int
	}{{"kp_up", m.KpUp}, {"kp_down", m.KpDown}} {
		if ref.v != NoIndex && !px.tail.covers(ref.v, px.base) {
			return fmt.Errorf("%w: %s=%d below base %d", ErrCheckpointInconsistent, ref.name, ref.v, px.base)
		}
	}
	return nil
}

// Checkpoint returns the machine state relative to base.
func (m *Machine) Checkpoint(base int) Checkpoint {
	return Checkpoint{
		State:     m.State,
		KpUp:      rel(m.KpUp, base),
		KpDown:    rel(m.KpDown, base),
		Cursor:    rel(m.Cursor, base),
		UpPrice:   m.UpPrice,
		DownPrice: m.DownPrice,
	}
}

// Seed loads a relative checkpoint taken against base.
func (m *Machine) Seed(cp Checkpoint, base int) {
	v := cp.Virtual(base)
	m.State = v.State
	m.KpUp, m.UpPrice = v.KpUp, v.UpPrice
	m.KpDown, m.DownPrice = v.KpDown, v.DownPrice
	m.Cursor = v.Cursor
}
