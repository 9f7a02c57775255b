package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"shapefinder/internal/model"
	"shapefinder/internal/shape"
	"shapefinder/internal/tracker"
)

var (
	_ model.CandleReader   = (*Reader)(nil)
	_ tracker.SQLiteReader = (*Reader)(nil)
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func openPair(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

var t0 = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

func candle(ex, tok string, tf, i int, high int64) model.TFCandle {
	return model.TFCandle{
		Exchange: ex,
		Token:    tok,
		TF:       tf,
		TS:       t0.Add(time.Duration(i*tf) * time.Second),
		Open:     high - 50,
		High:     high,
		Low:      high - 100,
		Close:    high - 20,
		Volume:   10,
		Count:    tf,
	}
}

// ────────────────────────────────────────────────────────────
// Candles
// ────────────────────────────────────────────────────────────

func TestCandles_InsertAndRead(t *testing.T) {
	w, r := openPair(t)
	batch := []model.TFCandle{
		candle("NSE", "1", 60, 0, 10000),
		candle("NSE", "2", 60, 0, 20000),
		candle("NSE", "1", 60, 1, 10100),
		candle("NSE", "1", 300, 0, 10200),
	}
	if err := w.InsertTFCandles(batch); err != nil {
		t.Fatalf("InsertTFCandles: %v", err)
	}
	// replacing a bucket keeps one row
	if err := w.InsertTFCandles([]model.TFCandle{candle("NSE", "1", 60, 1, 10150)}); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadTFCandles("NSE", "1", 60, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadTFCandles = %d candles, want 2", len(got))
	}
	if !got[0].TS.Equal(t0) || got[1].High != 10150 || got[1].Count != 60 {
		t.Errorf("candles = %+v", got)
	}

	all, err := r.ReadAllTFCandles(60, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Token != "1" || all[1].Token != "2" {
		t.Errorf("ReadAllTFCandles order = %+v", all)
	}

	after, _ := r.ReadAllTFCandles(60, t0.Unix())
	if len(after) != 1 {
		t.Errorf("afterTS filter returned %d candles", len(after))
	}

	keys, err := r.Instruments(60)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "NSE:1" || keys[1] != "NSE:2" {
		t.Errorf("Instruments = %v", keys)
	}

	last, err := w.GetLastTimestamp("NSE", "1", 60)
	if err != nil || last != t0.Add(time.Minute).Unix() {
		t.Errorf("GetLastTimestamp = %d, %v", last, err)
	}
	if last, _ := w.GetLastTimestamp("NSE", "9", 60); last != 0 {
		t.Errorf("GetLastTimestamp(unknown) = %d", last)
	}
}

func TestRunTFCandles_FlushesOnClose(t *testing.T) {
	w, r := openPair(t)
	ch := make(chan model.TFCandle, 10)
	for i := 0; i < 5; i++ {
		ch <- candle("NSE", "1", 60, i, int64(10000+i))
	}
	forming := candle("NSE", "1", 60, 5, 1)
	forming.Forming = true
	ch <- forming
	close(ch)

	w.RunTFCandles(context.Background(), ch)

	got, err := r.ReadTFCandles("NSE", "1", 60, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("stored %d candles, want 5 (forming skipped)", len(got))
	}
}

// ────────────────────────────────────────────────────────────
// Snapshots
// ────────────────────────────────────────────────────────────

func TestSnapshots_LatestAndPruned(t *testing.T) {
	w, r := openPair(t)

	if snap, err := r.ReadLatestSnapshot(); err != nil || snap != nil {
		t.Fatalf("empty store: %+v, %v", snap, err)
	}

	cfg := shape.DefaultConfig()
	for i := 0; i < keepSnapshots+5; i++ {
		snap := &tracker.EngineSnapshot{
			StreamID: model.Itoa(i) + "-0",
			Version:  tracker.SnapshotVersion,
			TakenAt:  t0,
			Detectors: []tracker.DetectorState{{
				Exchange: "NSE", Token: "1", TF: 60,
				Detector: shape.DetectorSnapshot{Version: shape.SnapshotVersion, Config: cfg, Checkpoint: shape.InitialCheckpoint()},
			}},
		}
		if err := w.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot %d: %v", i, err)
		}
	}

	snap, err := r.ReadLatestSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || snap.StreamID != "14-0" {
		t.Fatalf("latest = %+v", snap)
	}
	if len(snap.Detectors) != 1 || snap.Detectors[0].Detector.Config != cfg {
		t.Errorf("detector state lost: %+v", snap.Detectors)
	}

	var n int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM shape_snapshots`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != keepSnapshots {
		t.Errorf("kept %d snapshots, want %d", n, keepSnapshots)
	}
}
