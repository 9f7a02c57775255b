package shape

// Ratio returns the share of upward movement in the first differences of
// xs: sum(pos) / (sum(pos) - sum(neg)). A flat or single-sample slice is
// neutral and yields exactly 0.5.
func Ratio(xs []float64) float64 {
	pos, neg := 0.0, 0.0
	for i := 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		if d > 0 {
			pos += d
		} else {
			neg += d
		}
	}
	den := pos - neg
	if den == 0 {
		return 0.5
	}
	return pos / den
}

// Verdict is the validator's classification of a candidate.
type Verdict int

const (
	Reject Verdict = iota
	VerdictUp
	VerdictDown
)

// Validator confirms candidates with the momentum-ratio test.
type Validator struct {
	Percent  float64
	smoother Smoother
}

// NewValidator builds the validator described by cfg.
func NewValidator(cfg Config) Validator {
	return Validator{Percent: cfg.ValidatorPercent, smoother: NewSmoother(cfg)}
}

// Classify applies the ratio thresholds to the two sides of an extremum.
func (v Validator) Classify(left, right []float64) Verdict {
	lr, rr := Ratio(left), Ratio(right)
	revert := 1 - v.Percent
	switch {
	case lr > revert && rr < v.Percent:
		return VerdictUp
	case lr < v.Percent && rr > revert:
		return VerdictDown
	}
	return Reject
}

// Compensate maps smoothed index p back to the raw index holding the raw
// extremum of kind inside the contributor range of p. p wins ties, then
// the earliest index.
func (v Validator) Compensate(base int, raw []float64, p int, kind Kind) int {
	lo, _ := v.smoother.ContributorRange(p, p+1)
	if lo < base {
		lo = base
	}
	best := p
	for i := lo; i < p; i++ {
		x, bx := raw[i-base], raw[best-base]
		if (kind == Max && x > bx) || (kind == Min && x < bx) {
			best = i
		}
	}
	return best
}

// Confirm validates c against the raw series (raw[0] is virtual index base).
// The ratio test splits the context range at the candidate itself; only an
// accepted candidate is compensated to its raw extremum. It returns the key
// point and true, or false when the candidate is rejected.
func (v Validator) Confirm(base int, raw []float64, c Candidate) (KeyPoint, bool) {
	lo := c.Lo
	if lo < base {
		lo = base
	}
	left := raw[lo-base : c.Index-base+1]
	right := raw[c.Index-base : c.Hi-base]

	verdict := v.Classify(left, right)
	if (c.Kind == Max && verdict != VerdictUp) || (c.Kind == Min && verdict != VerdictDown) {
		return KeyPoint{}, false
	}
	q := v.Compensate(base, raw, c.Index, c.Kind)
	return KeyPoint{
		Index:     q,
		Kind:      c.Kind,
		Value:     raw[q-base],
		Candidate: c.Index,
		Conf:      c.Conf,
	}, true
}
