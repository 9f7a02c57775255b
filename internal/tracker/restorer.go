package tracker

import (
	"log"

	"shapefinder/internal/model"
)

// SQLiteReader is the interface needed for backfill reads.
type SQLiteReader interface {
	ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error)
}

// Restorer orchestrates tracker state restoration on startup.
// It follows a priority chain: Redis snapshot → SQLite snapshot → cold start.
type Restorer struct {
	opts Options
}

// NewRestorer creates a new Restorer for the given engine options.
func NewRestorer(opts Options) *Restorer {
	return &Restorer{opts: opts}
}

// RestoreFromSnap attempts to restore an engine from a snapshot.
// If snapshot is nil, returns a fresh engine (cold start).
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		log.Println("[restorer] no snapshot found: cold starting tracker")
		return NewEngine(r.opts), nil
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, detectors=%d)",
		snap.Version, snap.StreamID, len(snap.Detectors))

	engine, err := RestoreEngine(r.opts, snap)
	if err != nil {
		log.Printf("[restorer] WARNING: snapshot restore failed: %v, falling back to cold start", err)
		return NewEngine(r.opts), nil
	}

	log.Printf("[restorer] restored tracker from snapshot")
	return engine, nil
}

// ReplayCandles feeds a slice of TF candles into the engine to catch up
// from the snapshot to current state. Returns the number of candles replayed.
func (r *Restorer) ReplayCandles(engine *Engine, candles []model.TFCandle) int {
	count := 0
	for _, tfc := range candles {
		if tfc.Forming {
			continue
		}
		if _, err := engine.Process(tfc); err != nil {
			log.Printf("[restorer] replay: %v", err)
			continue
		}
		count++
	}
	log.Printf("[restorer] replayed %d TF candles to catch up", count)
	return count
}

// BackfillFromSQLite reads historical TF candles from SQLite and feeds them
// into the engine so detectors start with a full window. Candles already
// covered by a restored detector are skipped by Process. depth caps the
// number of candles read per TF; 0 means four windows of the base config.
// If onEvents is non-nil, it receives the events each candle produced.
func (r *Restorer) BackfillFromSQLite(engine *Engine, reader SQLiteReader, depth int, onEvents func([]model.ShapeEvent)) int {
	if reader == nil {
		return 0
	}
	if depth <= 0 {
		depth = 4 * r.opts.Base.Window
	}

	total := 0
	for _, tf := range r.opts.TFs {
		candles, err := reader.ReadAllTFCandles(tf, 0)
		if err != nil {
			log.Printf("[restorer] WARNING: failed to read TF=%d candles from SQLite: %v", tf, err)
			continue
		}

		// candles are interleaved across instruments; keep the newest depth per instrument
		candles = tailPerInstrument(candles, depth)

		fed := 0
		for _, tfc := range candles {
			tfc.Forming = false
			events, err := engine.Process(tfc)
			if err != nil {
				log.Printf("[restorer] backfill: %v", err)
				continue
			}
			if onEvents != nil && len(events) > 0 {
				onEvents(events)
			}
			fed++
		}
		total += fed
		if fed > 0 {
			log.Printf("[restorer] backfilled %d candles from SQLite for TF=%d", fed, tf)
		}
	}

	if total > 0 {
		log.Printf("[restorer] backfilled %d total candles from SQLite", total)
	}
	return total
}

// tailPerInstrument keeps the last n candles of each instrument, preserving
// the input order.
func tailPerInstrument(candles []model.TFCandle, n int) []model.TFCandle {
	counts := make(map[string]int)
	for i := range candles {
		counts[candles[i].Key()]++
	}
	seen := make(map[string]int)
	out := candles[:0:0]
	for _, c := range candles {
		k := c.Key()
		seen[k]++
		if counts[k]-seen[k] < n {
			out = append(out, c)
		}
	}
	return out
}
