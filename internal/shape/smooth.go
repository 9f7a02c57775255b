package shape

import "math"

// Smoother applies an SMA of Width samples Depth times.
type Smoother struct {
	Width int
	Depth int
}

// NewSmoother builds the smoother described by cfg.
func NewSmoother(cfg Config) Smoother {
	return Smoother{Width: cfg.SmoothWidth, Depth: cfg.SmoothDepth}
}

// Lag is the raw history one output value depends on.
func (s Smoother) Lag() int { return (s.Width - 1) * s.Depth }

// ContributorRange maps smoothed [lo, hi) to the raw range that determines it.
func (s Smoother) ContributorRange(lo, hi int) (int, int) {
	return lo - s.Lag(), hi
}

// Smoothed is smoothing output aligned with its input: vals[i] belongs to
// virtual index base+i and is NaN where history is insufficient.
type Smoothed struct {
	base int
	vals []float64
	lag  int
}

// At returns the smoothed value at virtual index i; ok is false for
// undefined positions.
func (s Smoothed) At(i int) (float64, bool) {
	if i < s.base+s.lag || i >= s.base+len(s.vals) {
		return 0, false
	}
	return s.vals[i-s.base], true
}

// Base is the virtual index of the first (possibly undefined) position.
func (s Smoothed) Base() int { return s.base }

// First is the first defined virtual index.
func (s Smoothed) First() int { return s.base + s.lag }

// End is one past the last position.
func (s Smoothed) End() int { return s.base + len(s.vals) }

// Apply smooths raw samples starting at virtual index base. Each output is
// summed directly over its window so values never depend on how much prefix
// the caller retained.
func (s Smoother) Apply(base int, raw []float64) Smoothed {
	cur := make([]float64, len(raw))
	copy(cur, raw)
	next := make([]float64, len(raw))
	w := s.Width
	for layer := 1; layer <= s.Depth; layer++ {
		first := (w - 1) * layer
		for i := range next {
			if i < first {
				next[i] = math.NaN()
				continue
			}
			sum := 0.0
			for j := i - w + 1; j <= i; j++ {
				sum += cur[j]
			}
			next[i] = sum / float64(w)
		}
		cur, next = next, cur
	}
	return Smoothed{base: base, vals: cur, lag: s.Lag()}
}
