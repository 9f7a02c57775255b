package shape

import "testing"

func TestRatio(t *testing.T) {
	cases := []struct {
		xs   []float64
		want float64
	}{
		{[]float64{1, 2, 3}, 1},
		{[]float64{3, 2, 1}, 0},
		{[]float64{1, 1, 1}, 0.5},
		{[]float64{5}, 0.5},
		{nil, 0.5},
		{[]float64{1, 3, 2}, 2.0 / 3.0},
	}
	for _, c := range cases {
		assertClose(t, "ratio", Ratio(c.xs), c.want, 1e-12)
	}
}

func TestValidator_Classify(t *testing.T) {
	v := NewValidator(DefaultConfig())
	rise := []float64{1, 2, 3, 4}
	fall := []float64{4, 3, 2, 1}
	flat := []float64{2, 2, 2}
	if got := v.Classify(rise, fall); got != VerdictUp {
		t.Errorf("rise/fall = %v, want VerdictUp", got)
	}
	if got := v.Classify(fall, rise); got != VerdictDown {
		t.Errorf("fall/rise = %v, want VerdictDown", got)
	}
	if got := v.Classify(flat, flat); got != Reject {
		t.Errorf("flat/flat = %v, want Reject", got)
	}
	if got := v.Classify(rise, rise); got != Reject {
		t.Errorf("rise/rise = %v, want Reject", got)
	}
}

func TestValidator_ConfirmTent(t *testing.T) {
	cfg := rawCfg(3, 1)
	v := NewValidator(cfg)
	kp, ok := v.Confirm(0, tent, Candidate{Index: 5, Kind: Max, Lo: 0, Hi: 11, Conf: 10})
	if !ok {
		t.Fatal("tent peak rejected")
	}
	if kp.Index != 5 || kp.Value != 5 || kp.Kind != Max || kp.Conf != 10 {
		t.Errorf("key point = %+v", kp)
	}

	// same extremum claimed as a MIN classifies UP and is rejected
	if _, ok := v.Confirm(0, tent, Candidate{Index: 5, Kind: Min, Lo: 0, Hi: 11, Conf: 10}); ok {
		t.Error("MIN accepted on a peak")
	}
}

func TestValidator_ConfirmSplitsAtCandidate(t *testing.T) {
	v := NewValidator(DefaultConfig())
	cases := []struct {
		name   string
		at9    float64
		ok     bool
		wantKP KeyPoint
	}{
		// the raw peak sits at 8; the candidate side [6, 9] has given back
		// too much to count as a clean rise
		{"late candidate after a pullback", 2.5, false, KeyPoint{}},
		{"late candidate near the peak", 2.95, true, KeyPoint{Index: 8, Kind: Max, Value: 3, Candidate: 9, Conf: 17}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := []float64{0, 0, 0, 0, 0, 0, 1, 2, 3, c.at9, 2, 1.5, 1, 0.5, 0, -0.5, -1, -1.5}
			cand := Candidate{Index: 9, Kind: Max, Lo: 6, Hi: 18, Conf: 17}
			kp, ok := v.Confirm(0, raw, cand)
			if ok != c.ok {
				t.Fatalf("Confirm ok = %v, want %v (kp %+v)", ok, c.ok, kp)
			}
			if kp != c.wantKP {
				t.Errorf("key point = %+v, want %+v", kp, c.wantKP)
			}
			wantVerdict := Reject
			if c.ok {
				wantVerdict = VerdictUp
			}
			if got := v.Classify(raw[6:10], raw[9:18]); got != wantVerdict {
				t.Errorf("Classify at candidate = %v, want %v", got, wantVerdict)
			}
		})
	}
}

func TestValidator_FlatRejected(t *testing.T) {
	cfg := rawCfg(3, 1)
	flat := []float64{7, 7, 7, 7, 7, 7, 7}
	if _, ok := NewValidator(cfg).Confirm(0, flat, Candidate{Index: 3, Kind: Max, Lo: 0, Hi: 7, Conf: 6}); ok {
		t.Error("flat slice validated")
	}
}

func TestValidator_Compensate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothDepth = 1 // lag 2
	v := NewValidator(cfg)
	raw := []float64{0, 1, 2, 9, 3, 2, 1, 0}
	if q := v.Compensate(0, raw, 4, Max); q != 3 {
		t.Errorf("Compensate MAX from 4 = %d, want 3", q)
	}
	// p keeps ties
	plateau := []float64{0, 5, 5, 5, 0}
	if q := v.Compensate(0, plateau, 3, Max); q != 3 {
		t.Errorf("Compensate on plateau = %d, want 3", q)
	}
	// clipped at base
	if q := v.Compensate(10, raw, 11, Min); q != 10 {
		t.Errorf("Compensate MIN clipped = %d, want 10", q)
	}
}
