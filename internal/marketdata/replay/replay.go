// Package replay reads historical TF candles and emits them in time order,
// at a configurable speed, for backtests and for seeding a running engine.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"shapefinder/internal/model"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Source is the candle store a Replayer reads from; *sqlite.Reader satisfies it.
type Source interface {
	ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error)
}

// Replayer reads historical TF candles and replays them at a configurable
// speed multiplier.
type Replayer struct {
	src Source

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by src.
func New(src Source) *Replayer {
	return &Replayer{src: src, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Load returns every finalized candle on tfs after fromTS, ordered by time.
// Candles sharing a timestamp keep TF order, then the store's order.
func (r *Replayer) Load(tfs []int, fromTS int64) ([]model.TFCandle, error) {
	var all []model.TFCandle
	for _, tf := range tfs {
		candles, err := r.src.ReadAllTFCandles(tf, fromTS)
		if err != nil {
			return nil, err
		}
		all = append(all, candles...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	for i := range all {
		all[i].Forming = false
	}
	return all, nil
}

// Run replays all candles for the given TFs, emitting them into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// fromTS filters candles to those after this Unix timestamp (0 = all).
// outCh is not closed.
func (r *Replayer) Run(ctx context.Context, tfs []int, fromTS int64, speed float64, outCh chan<- model.TFCandle) (int, error) {
	candles, err := r.Load(tfs, fromTS)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Println("[replay] no candles found")
		return 0, nil
	}

	log.Printf("[replay] loaded %d candles across %d TFs, speed=%.1fx", len(candles), len(tfs), speed)

	var prevTS time.Time
	emitted := 0
	for _, c := range candles {
		if speed > 0 && !prevTS.IsZero() {
			if gap := c.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				if err := r.sleep(ctx, scaled); err != nil {
					log.Printf("[replay] cancelled after %d candles", emitted)
					return emitted, err
				}
			}
		}
		prevTS = c.TS

		select {
		case outCh <- c:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}
