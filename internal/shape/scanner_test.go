package shape

import "testing"

// rawCfg disables smoothing so scans run on the samples themselves.
func rawCfg(half, margin int) Config {
	cfg := DefaultConfig()
	cfg.SmoothWidth = 1
	cfg.SmoothDepth = 0
	cfg.HalfWidthUp = half
	cfg.HalfWidthDown = half
	cfg.Margin = margin
	return cfg
}

var tent = []float64{0, 1, 2, 3, 4, 5, 4, 3, 2, 1, 0}

func TestScan_TentPeak(t *testing.T) {
	cfg := rawCfg(3, 1)
	sm := NewSmoother(cfg).Apply(0, tent)
	cands := Scan(sm, cfg)
	if len(cands) == 0 {
		t.Fatal("no candidates")
	}
	first := cands[0]
	want := Candidate{Index: 5, Kind: Max, Lo: 0, Hi: 6, Conf: 5}
	if first != want {
		t.Errorf("first candidate = %+v, want %+v", first, want)
	}
	maxes := 0
	for _, c := range cands {
		if c.Kind == Max {
			maxes++
			if c.Index != 5 {
				t.Errorf("MAX candidate at %d, want 5", c.Index)
			}
		}
	}
	// starts 0..4 place the peak at offsets 5..1; start 5 puts it on the edge
	if maxes != 5 {
		t.Errorf("MAX candidates = %d, want 5", maxes)
	}
}

func TestScan_OrderedByConfMaxFirst(t *testing.T) {
	cfg := rawCfg(3, 1)
	cands := Scan(NewSmoother(cfg).Apply(0, tent), cfg)
	for i := 1; i < len(cands); i++ {
		a, b := cands[i-1], cands[i]
		if a.Conf > b.Conf {
			t.Fatalf("candidates %d,%d out of conf order: %+v %+v", i-1, i, a, b)
		}
		if a.Conf == b.Conf && a.Kind == Min && b.Kind == Max {
			t.Fatalf("MIN before MAX at conf %d", a.Conf)
		}
	}
}

func TestScan_MarginExcludesEdges(t *testing.T) {
	cfg := rawCfg(3, 3)
	cands := Scan(NewSmoother(cfg).Apply(0, tent), cfg)
	maxes := 0
	for _, c := range cands {
		if c.Kind == Max {
			maxes++
			if off := c.Index - c.Lo; off != 3 {
				t.Errorf("offset %d with margin 3 and width 6", off)
			}
		}
	}
	if maxes != 1 {
		t.Errorf("MAX candidates = %d, want 1", maxes)
	}
}

func TestScan_StartsAfterLag(t *testing.T) {
	cfg := DefaultConfig()
	cands := Scan(NewSmoother(cfg).Apply(0, sineSeries(300)), cfg)
	if len(cands) == 0 {
		t.Fatal("no candidates on sine")
	}
	for _, c := range cands {
		if c.Lo < cfg.Lag() {
			t.Fatalf("candidate window starts at %d before lag %d", c.Lo, cfg.Lag())
		}
		if c.Conf != c.Hi-1 {
			t.Fatalf("conf %d != hi-1 (%d)", c.Conf, c.Hi-1)
		}
	}
}

func TestScan_ShortSeries(t *testing.T) {
	cfg := DefaultConfig()
	if got := Scan(NewSmoother(cfg).Apply(0, []float64{1, 2, 3}), cfg); len(got) != 0 {
		t.Errorf("short series produced %d candidates", len(got))
	}
}
