package shape

import (
	"fmt"
	"sort"
)

// Extreme is one trimmed sample kept in a Tail.
type Extreme struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// Tail summarises samples trimmed off the front of a window that still lie
// at or after the oldest live reference, so arg-max and arg-min lookups
// starting at that reference stay exact. Highs holds the suffix maxima of
// [From, base) and Lows the suffix minima, both in index order. Indices are
// virtual.
type Tail struct {
	From  int       `json:"from"`
	Highs []Extreme `json:"highs,omitempty"`
	Lows  []Extreme `json:"lows,omitempty"`
}

// absorb records the samples vals, which sat at virtual indices from
// onwards and have just left the window. Samples before floor are no
// longer reachable by any reference; floor NoIndex empties the tail.
func (t *Tail) absorb(from int, vals []float64, floor int) {
	end := from + len(vals)
	if floor == NoIndex || floor >= end {
		*t = Tail{From: end}
		return
	}
	t.drop(floor)
	for k, v := range vals {
		if i := from + k; i >= floor {
			t.push(i, v)
		}
	}
}

func (t *Tail) push(i int, v float64) {
	for len(t.Highs) > 0 && t.Highs[len(t.Highs)-1].Value < v {
		t.Highs = t.Highs[:len(t.Highs)-1]
	}
	t.Highs = append(t.Highs, Extreme{Index: i, Value: v})
	for len(t.Lows) > 0 && t.Lows[len(t.Lows)-1].Value > v {
		t.Lows = t.Lows[:len(t.Lows)-1]
	}
	t.Lows = append(t.Lows, Extreme{Index: i, Value: v})
}

// drop forgets every sample before floor.
func (t *Tail) drop(floor int) {
	if floor <= t.From {
		return
	}
	t.From = floor
	t.Highs = t.Highs[searchExtremes(t.Highs, floor):]
	t.Lows = t.Lows[searchExtremes(t.Lows, floor):]
}

// first returns the earliest sample holding the maximum (Max) or minimum
// (Min) of every trimmed sample at or after i.
func (t *Tail) first(i int, kind Kind) (Extreme, bool) {
	s := t.Highs
	if kind == Min {
		s = t.Lows
	}
	k := searchExtremes(s, i)
	if k == len(s) {
		return Extreme{}, false
	}
	return s[k], true
}

// covers reports whether lookups from virtual index i are answerable for a
// window starting at base.
func (t *Tail) covers(i, base int) bool {
	if i >= base {
		return true
	}
	if t == nil || i < t.From || len(t.Highs) == 0 || len(t.Lows) == 0 {
		return false
	}
	return t.Highs[len(t.Highs)-1].Index == base-1 && t.Lows[len(t.Lows)-1].Index == base-1
}

func (t Tail) validate(base int) error {
	if t.From > base {
		return fmt.Errorf("%w: tail starts at %d past base %d", ErrCheckpointInconsistent, t.From, base)
	}
	for _, s := range [...][]Extreme{t.Highs, t.Lows} {
		for k, e := range s {
			if e.Index < t.From || e.Index >= base || (k > 0 && e.Index <= s[k-1].Index) || !finite(e.Value) {
				return fmt.Errorf("%w: bad tail entry %+v", ErrCheckpointInconsistent, e)
			}
		}
	}
	return nil
}

func (t Tail) clone() Tail {
	return Tail{
		From:  t.From,
		Highs: append([]Extreme(nil), t.Highs...),
		Lows:  append([]Extreme(nil), t.Lows...),
	}
}

func searchExtremes(s []Extreme, i int) int {
	return sort.Search(len(s), func(k int) bool { return s[k].Index >= i })
}
