package main

import (
	"math"
	"strings"
	"testing"
	"time"

	"shapefinder/internal/model"
	"shapefinder/internal/shape"
	"shapefinder/internal/tracker"
)

func swingCandles(token string, n int) []model.TFCandle {
	t0 := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	out := make([]model.TFCandle, n)
	for i := range out {
		x := float64(i)
		p := int64(math.Round((100 + 8*math.Sin(2*math.Pi*x/45) + 6*math.Sin(2*math.Pi*x/400)) * 100))
		out[i] = model.TFCandle{Exchange: "NSE", Token: token, TF: 60, TS: t0.Add(time.Duration(i) * time.Minute), High: p, Low: p - 50}
	}
	return out
}

func TestRecorder_CrossCheck(t *testing.T) {
	engine := tracker.NewEngine(tracker.Options{TFs: []int{60}, Base: shape.DefaultConfig()})
	rec := newRecorder(model.FieldHigh)
	candles := swingCandles("A", 900)
	// a replayed duplicate is skipped by both the tracker and the recorder
	candles = append(candles[:300:300], append([]model.TFCandle{candles[299]}, candles[300:]...)...)

	for _, c := range candles {
		events, err := engine.Process(c)
		if err != nil {
			t.Fatal(err)
		}
		rec.observe(c, events)
	}
	k := seriesKey{tf: 60, key: "NSE:A"}
	if len(rec.series[k]) != 900 {
		t.Fatalf("recorded %d samples", len(rec.series[k]))
	}
	if len(rec.breakouts[k]) == 0 {
		t.Fatal("no breakouts streamed")
	}

	defaults := func(string, int) shape.Config { return shape.DefaultConfig() }
	if m := rec.crossCheck(defaults); len(m) != 0 {
		t.Fatalf("mismatches on a clean run: %v", m)
	}

	rec.breakouts[k][0].Index++
	m := rec.crossCheck(defaults)
	if len(m) != 1 || !strings.Contains(m[0], "NSE:A TF=60s: breakout 0") {
		t.Errorf("tampered run = %v", m)
	}

	rec.breakouts[k] = rec.breakouts[k][1:]
	if m := rec.crossCheck(defaults); len(m) != 1 || !strings.Contains(m[0], "streamed breakouts") {
		t.Errorf("short run = %v", m)
	}
}
