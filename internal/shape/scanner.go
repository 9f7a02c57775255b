package shape

// Scan runs the MAX and MIN passes over the smoothed series and returns the
// candidates ordered by confirmation step, MAX before MIN on equal steps.
func Scan(sm Smoothed, cfg Config) []Candidate {
	up := scanPass(sm, cfg.HalfWidthUp, cfg.Margin, Max)
	down := scanPass(sm, cfg.HalfWidthDown, cfg.Margin, Min)

	out := make([]Candidate, 0, len(up)+len(down))
	i, j := 0, 0
	for i < len(up) || j < len(down) {
		if j == len(down) || (i < len(up) && up[i].Conf <= down[j].Conf) {
			out = append(out, up[i])
			i++
		} else {
			out = append(out, down[j])
			j++
		}
	}
	return out
}

// scanPass slides a window of 2*half samples across every defined start
// position. Windows that would run past End are skipped.
func scanPass(sm Smoothed, half, margin int, kind Kind) []Candidate {
	width := 2 * half
	var out []Candidate
	for s := sm.First(); s+width <= sm.End(); s++ {
		best := s
		bv, _ := sm.At(s)
		for i := s + 1; i < s+width; i++ {
			v, _ := sm.At(i)
			if (kind == Max && v > bv) || (kind == Min && v < bv) {
				best, bv = i, v
			}
		}
		off := best - s
		if off >= margin && off <= width-margin {
			out = append(out, Candidate{
				Index: best,
				Kind:  kind,
				Lo:    s,
				Hi:    s + width,
				Conf:  s + width - 1,
			})
		}
	}
	return out
}
