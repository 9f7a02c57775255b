package shape

import (
	"errors"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

// drive steps m over x from 0 through last, inserting each hand-made key
// point at its confirmation step.
func drive(t *testing.T, m *Machine, x []float64, keys []KeyPoint, last int) []Breakout {
	t.Helper()
	idx := NewKeyIndex()
	var out []Breakout
	for step := 0; step <= last; step++ {
		var fresh []KeyPoint
		for _, kp := range keys {
			if kp.Conf == step {
				idx.Insert(kp)
				fresh = append(fresh, kp)
			}
		}
		sortByIndex(fresh)
		bs, err := m.Step(step, 0, x, nil, idx, fresh)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		out = append(out, bs...)
	}
	return out
}

func machineCfg(pct float64) Config {
	cfg := DefaultConfig()
	cfg.BreakPercent = pct
	return cfg
}

// ────────────────────────────────────────────────────────────
// Threshold crossings
// ────────────────────────────────────────────────────────────

func TestMachine_UpBreakAtExactIndex(t *testing.T) {
	x := []float64{100, 105, 110, 105, 100, 95, 90, 95, 100, 105, 110, 111, 112}
	keys := []KeyPoint{
		{Index: 2, Kind: Max, Value: 110, Conf: 6},
		{Index: 6, Kind: Min, Value: 90, Conf: 6},
	}
	m := NewMachine(machineCfg(0.01))

	// 111 does not exceed 110*1.01, 112 does
	if bs := drive(t, m, x, keys, 11); len(bs) != 0 {
		t.Fatalf("breakout before threshold crossed: %+v", bs)
	}
	if m.State != StateNone || m.Cursor != 12 {
		t.Fatalf("state %v cursor %d, want NONE/12", m.State, m.Cursor)
	}

	m = NewMachine(machineCfg(0.01))
	bs := drive(t, m, x, keys, 12)
	if len(bs) != 1 {
		t.Fatalf("breakouts = %+v, want one", bs)
	}
	b := bs[0]
	if b.Index != 12 || b.Direction != Up || b.Reference != 2 || b.Price != 112 {
		t.Errorf("breakout = %+v", b)
	}
	assertClose(t, "threshold", b.Threshold, 111.1, 1e-9)

	cp := m.Checkpoint(0)
	want := Checkpoint{State: StateBreakUp, KpUp: NoIndex, KpDown: 6, Cursor: 13, DownPrice: 90}
	if cp != want {
		t.Errorf("checkpoint = %+v, want %+v", cp, want)
	}
}

func TestMachine_IdleUntilBothKinds(t *testing.T) {
	x := []float64{100, 110, 100, 90, 100}
	m := NewMachine(machineCfg(0.01))
	drive(t, m, x, []KeyPoint{{Index: 1, Kind: Max, Conf: 2}}, 4)
	if m.State != StateIdle || m.KpUp != 1 || m.KpDown != NoIndex {
		t.Errorf("after one MAX: state %v up %d down %d", m.State, m.KpUp, m.KpDown)
	}
}

// ────────────────────────────────────────────────────────────
// Ratchet and reversal
// ────────────────────────────────────────────────────────────

var ratchetPrices = []float64{100, 110, 100, 90, 95, 100, 105, 112, 108, 104, 108, 113, 102}

func TestMachine_RatchetThenBreakDown(t *testing.T) {
	keys := []KeyPoint{
		{Index: 1, Kind: Max, Value: 110, Conf: 3},
		{Index: 3, Kind: Min, Value: 90, Conf: 3},
		{Index: 9, Kind: Min, Value: 104, Conf: 11},
	}
	m := NewMachine(machineCfg(0.01))
	bs := drive(t, m, ratchetPrices, keys, 11)
	if len(bs) != 1 || bs[0].Direction != Up || bs[0].Index != 7 {
		t.Fatalf("breakouts through 11 = %+v, want UP at 7", bs)
	}
	if m.KpDown != 9 {
		t.Fatalf("kp_down = %d, want ratcheted to 9", m.KpDown)
	}

	bs = drive(t, NewMachine(machineCfg(0.01)), ratchetPrices, keys, 12)
	if len(bs) != 2 {
		t.Fatalf("breakouts = %+v, want two", bs)
	}
	down := bs[1]
	if down.Direction != Down || down.Index != 12 || down.Reference != 9 {
		t.Errorf("down breakout = %+v", down)
	}
	assertClose(t, "down threshold", down.Threshold, 104*0.99, 1e-9)
}

func TestMachine_ReversalPicksHighestSinceBrokenLow(t *testing.T) {
	keys := []KeyPoint{
		{Index: 1, Kind: Max, Value: 110, Conf: 3},
		{Index: 3, Kind: Min, Value: 90, Conf: 3},
		{Index: 9, Kind: Min, Value: 104, Conf: 11},
	}
	m := NewMachine(machineCfg(0.01))
	drive(t, m, ratchetPrices, keys, 12)
	// highest price in [9, 12] is 113 at 11
	if m.State != StateBreakDown || m.KpUp != 11 || m.KpDown != NoIndex || m.Cursor != 13 {
		t.Errorf("after DOWN: state %v up %d down %d cursor %d", m.State, m.KpUp, m.KpDown, m.Cursor)
	}
}

func TestMachine_CursorAdvanceModes(t *testing.T) {
	// A MIN key point sits exactly on the breakout index.
	keys := []KeyPoint{
		{Index: 1, Kind: Max, Conf: 3},
		{Index: 3, Kind: Min, Conf: 3},
		{Index: 7, Kind: Min, Conf: 7},
	}

	cfg := machineCfg(0.01)
	cfg.RatchetAdvance = 0
	cfg.CursorAdvance = 0
	m := NewMachine(cfg)
	drive(t, m, ratchetPrices, keys, 7)
	if m.KpDown != 7 {
		t.Errorf("advance 0: kp_down = %d, want 7", m.KpDown)
	}

	cfg.CursorAdvance = 1
	m = NewMachine(cfg)
	drive(t, m, ratchetPrices, keys, 7)
	if m.KpDown != 3 {
		t.Errorf("advance 1: kp_down = %d, want 3", m.KpDown)
	}
}

func TestMachine_RatchetAdvanceModes(t *testing.T) {
	// A MIN key point sits exactly on the cursor of a BREAK_UP machine.
	x := []float64{100, 110, 104, 108, 109, 102}
	keys := NewKeyIndex()
	keys.Insert(KeyPoint{Index: 2, Kind: Min, Value: 104, Conf: 4})
	seed := Checkpoint{State: StateBreakUp, KpUp: NoIndex, KpDown: 0, Cursor: 2, DownPrice: 100}

	cases := []struct {
		advance int
		kpDown  int
		breaks  int
	}{
		{0, 2, 1}, // 102 undercuts 104*0.99
		{1, 0, 0}, // 102 stays above 100*0.99
	}
	for _, c := range cases {
		cfg := machineCfg(0.01)
		cfg.RatchetAdvance = c.advance
		m := NewMachine(cfg)
		m.Seed(seed, 0)
		bs, err := m.Step(5, 0, x, nil, keys, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(bs) != c.breaks {
			t.Errorf("advance %d: breakouts = %+v, want %d", c.advance, bs, c.breaks)
		}
		if c.breaks == 1 && (bs[0].Reference != 2 || bs[0].Index != 5) {
			t.Errorf("advance %d: breakout = %+v, want DOWN at 5 off 2", c.advance, bs[0])
		}
		if c.breaks == 0 && m.KpDown != c.kpDown {
			t.Errorf("advance %d: kp_down = %d, want %d", c.advance, m.KpDown, c.kpDown)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Ties and consistency
// ────────────────────────────────────────────────────────────

func TestMachine_TiePolicy(t *testing.T) {
	// 105 exceeds the up threshold off 100 and undercuts the down threshold
	// off 110 at the same index.
	x := []float64{100, 110, 105}
	cases := []struct {
		policy TiePolicy
		want   Direction
	}{
		{TiePreferDown, Down},
		{TiePreferUp, Up},
	}
	for _, c := range cases {
		cfg := machineCfg(0.001)
		cfg.TiePolicy = c.policy
		m := NewMachine(cfg)
		m.Seed(Checkpoint{State: StateNone, KpUp: 0, KpDown: 1, Cursor: 2, UpPrice: 100, DownPrice: 110}, 0)
		bs, err := m.Step(2, 0, x, nil, NewKeyIndex(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(bs) != 1 || bs[0].Direction != c.want || bs[0].Index != 2 {
			t.Errorf("%v: breakouts = %+v, want %v at 2", c.policy, bs, c.want)
		}
	}
}

func TestMachine_RejectsTrimmedReference(t *testing.T) {
	m := NewMachine(DefaultConfig())
	m.Seed(Checkpoint{State: StateNone, KpUp: 2, KpDown: 8, Cursor: 9}, 0)
	_, err := m.Step(10, 5, make([]float64, 6), nil, NewKeyIndex(), nil)
	if !errors.Is(err, ErrCheckpointInconsistent) {
		t.Fatalf("err = %v, want ErrCheckpointInconsistent", err)
	}

	m.Seed(Checkpoint{State: StateBreakUp, KpUp: NoIndex, KpDown: 6, Cursor: 4}, 0)
	_, err = m.Step(10, 5, make([]float64, 6), nil, NewKeyIndex(), nil)
	if !errors.Is(err, ErrCheckpointInconsistent) {
		t.Fatalf("cursor below base: err = %v, want ErrCheckpointInconsistent", err)
	}
}

func TestMachine_ReversalReachesIntoTail(t *testing.T) {
	// Samples 0..4 were trimmed; the broken low sits at 1 and the highest
	// price since then (120 at 3) is only in the tail.
	trimmed := []float64{95, 90, 100, 120, 110}
	var tail Tail
	tail.absorb(0, trimmed, 1)
	window := []float64{105, 100, 95, 88}

	m := NewMachine(machineCfg(0.01))
	m.Seed(Checkpoint{State: StateBreakUp, KpUp: NoIndex, KpDown: -4, Cursor: 0, DownPrice: 90}, 5)
	bs, err := m.Step(8, 5, window, &tail, NewKeyIndex(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) != 1 || bs[0].Direction != Down || bs[0].Index != 8 || bs[0].Reference != 1 {
		t.Fatalf("breakouts = %+v, want DOWN at 8 off 1", bs)
	}
	assertClose(t, "threshold", bs[0].Threshold, 89.1, 1e-9)
	if m.KpUp != 3 || m.UpPrice != 120 {
		t.Errorf("kp_up = %d (%.1f), want 3 (120)", m.KpUp, m.UpPrice)
	}
}
