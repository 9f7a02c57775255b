package shape

import (
	"math"
	"math/rand"
	"testing"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// swingSeries is a fast oscillation riding a slow one, so successive swings
// alternately rise and fall and both breakout directions occur.
func swingSeries(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		t := float64(i)
		out[i] = 100 + 8*math.Sin(2*math.Pi*t/45) + 6*math.Sin(2*math.Pi*t/400) + 0.05*rng.NormFloat64()
	}
	return out
}

// trendSeries is a clean uptrending oscillation.
func trendSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i)
		out[i] = 100 + 0.05*t + 5*math.Sin(2*math.Pi*t/40)
	}
	return out
}

// randomWalk is a geometric random walk starting at 100.
func randomWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	x := 100.0
	for i := range out {
		x *= math.Exp(0.004 * rng.NormFloat64())
		out[i] = x
	}
	return out
}

func sineSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 10*math.Sin(2*math.Pi*(float64(i)+0.3)/50)
	}
	return out
}

func ingestAll(t *testing.T, d *Detector, xs []float64) ([]SignalSet, []Breakout, []KeyPoint) {
	t.Helper()
	var sets []SignalSet
	var bs []Breakout
	var kps []KeyPoint
	for i, x := range xs {
		set, err := d.Ingest(x)
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		sets = append(sets, set)
		bs = append(bs, set.Breakouts...)
		kps = append(kps, set.KeyPoints...)
	}
	return sets, bs, kps
}
