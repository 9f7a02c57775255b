// Package tracker runs one shape detector per instrument and timeframe and
// turns their output into model.ShapeEvent values.
package tracker

import (
	"fmt"
	"log"
	"sort"
	"time"

	"shapefinder/internal/model"
	"shapefinder/internal/shape"
)

// ConfigResolver picks the detector config for an instrument on a TF.
// *config.Overrides satisfies it.
type ConfigResolver interface {
	Resolve(key string, tf int, base shape.Config) shape.Config
}

// Options configure an Engine.
type Options struct {
	TFs      []int          // timeframes to track; candles on other TFs are ignored
	Field    model.Field    // candle price fed to detectors
	Base     shape.Config   // config before per-instrument overrides
	Resolver ConfigResolver // optional
}

// instrument is the live detector for one key within a TF.
type instrument struct {
	det    *shape.Detector
	lastTS time.Time
}

// Engine tracks shapes across multiple TFs for multiple instruments.
// Not safe for concurrent use.
type Engine struct {
	opts Options

	// state[tf][exchange:token]
	state map[int]map[string]*instrument
}

// NewEngine creates an empty engine.
func NewEngine(opts Options) *Engine {
	if opts.Field == "" {
		opts.Field = model.FieldHigh
	}
	state := make(map[int]map[string]*instrument, len(opts.TFs))
	for _, tf := range opts.TFs {
		state[tf] = make(map[string]*instrument, 64)
	}
	return &Engine{opts: opts, state: state}
}

// TFs returns the tracked timeframes.
func (e *Engine) TFs() []int { return e.opts.TFs }

// configFor returns the effective config for key on tf.
func (e *Engine) configFor(key string, tf int) shape.Config {
	if e.opts.Resolver == nil {
		return e.opts.Base
	}
	return e.opts.Resolver.Resolve(key, tf, e.opts.Base)
}

// Process feeds one finalized candle to its detector and returns the events
// it caused, key points first. Forming candles, untracked TFs and candles not
// newer than the last one seen for the instrument produce nothing.
func (e *Engine) Process(tfc model.TFCandle) ([]model.ShapeEvent, error) {
	if tfc.Forming {
		return nil, nil
	}
	byKey, ok := e.state[tfc.TF]
	if !ok {
		return nil, nil
	}

	key := tfc.Key()
	inst, exists := byKey[key]
	if !exists {
		det, err := shape.NewDetector(e.configFor(key, tfc.TF))
		if err != nil {
			return nil, fmt.Errorf("tracker: %s tf=%d: %w", key, tfc.TF, err)
		}
		inst = &instrument{det: det}
		byKey[key] = inst
	}
	if !inst.lastTS.IsZero() && !tfc.TS.After(inst.lastTS) {
		return nil, nil // replayed or out-of-order candle
	}

	set, err := inst.det.Ingest(tfc.Sample(e.opts.Field))
	if err != nil {
		return nil, fmt.Errorf("tracker: %s tf=%d: %w", key, tfc.TF, err)
	}
	inst.lastTS = tfc.TS
	return toEvents(tfc, set), nil
}

func toEvents(tfc model.TFCandle, set shape.SignalSet) []model.ShapeEvent {
	if set.Empty() {
		return nil
	}
	events := make([]model.ShapeEvent, 0, len(set.KeyPoints)+len(set.Breakouts))
	for _, kp := range set.KeyPoints {
		events = append(events, model.ShapeEvent{
			Type:     model.EventKeyPoint,
			Token:    tfc.Token,
			Exchange: tfc.Exchange,
			TF:       tfc.TF,
			TS:       tfc.TS,
			Index:    kp.Index,
			Step:     set.Index,
			Kind:     kp.Kind.String(),
			Price:    kp.Value,
		})
	}
	for _, b := range set.Breakouts {
		events = append(events, model.ShapeEvent{
			Type:      model.EventBreakout,
			Token:     tfc.Token,
			Exchange:  tfc.Exchange,
			TF:        tfc.TF,
			TS:        tfc.TS,
			Index:     b.Index,
			Step:      set.Index,
			Direction: b.Direction.String(),
			Price:     b.Price,
			Reference: b.Reference,
			Threshold: b.Threshold,
			Live:      b.Index == set.Index,
		})
	}
	return events
}

// Reset drops the detector for key on tf, or on every TF when tf is 0.
// The next candle starts it cold. Returns the number of detectors dropped.
func (e *Engine) Reset(key string, tf int) int {
	n := 0
	for t, byKey := range e.state {
		if tf != 0 && t != tf {
			continue
		}
		if _, ok := byKey[key]; ok {
			delete(byKey, key)
			n++
		}
	}
	return n
}

// Reload swaps the base config and resolver. Detectors whose effective
// config is unchanged keep their state; the rest are dropped.
func (e *Engine) Reload(base shape.Config, r ConfigResolver) (preserved, dropped int) {
	e.opts.Base = base
	e.opts.Resolver = r
	for tf, byKey := range e.state {
		for key, inst := range byKey {
			if inst.det.Config() == e.configFor(key, tf) {
				preserved++
				continue
			}
			delete(byKey, key)
			dropped++
		}
	}
	log.Printf("[tracker] config reloaded: %d preserved, %d dropped", preserved, dropped)
	return preserved, dropped
}

// DetectorInfo summarizes one detector for the HTTP API.
type DetectorInfo struct {
	Exchange   string           `json:"exchange"`
	Token      string           `json:"token"`
	TF         int              `json:"tf"`
	Base       int              `json:"base"`
	Len        int              `json:"len"`
	Next       int              `json:"next"`
	Offset     int              `json:"offset"`
	Checkpoint shape.Checkpoint `json:"checkpoint"` // absolute indices
	LastTS     time.Time        `json:"last_ts"`
}

// Detectors lists every live detector ordered by TF then key.
func (e *Engine) Detectors() []DetectorInfo {
	var out []DetectorInfo
	for tf, byKey := range e.state {
		for key, inst := range byKey {
			ex, tok := splitKey(key)
			out = append(out, DetectorInfo{
				Exchange:   ex,
				Token:      tok,
				TF:         tf,
				Base:       inst.det.Base(),
				Len:        inst.det.Len(),
				Next:       inst.det.Next(),
				Offset:     inst.det.Offset(),
				Checkpoint: inst.det.VirtualCheckpoint(),
				LastTS:     inst.lastTS,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TF != out[j].TF {
			return out[i].TF < out[j].TF
		}
		return out[i].Exchange+":"+out[i].Token < out[j].Exchange+":"+out[j].Token
	})
	return out
}

// Count returns the number of live detectors.
func (e *Engine) Count() int {
	n := 0
	for _, byKey := range e.state {
		n += len(byKey)
	}
	return n
}

// splitKey splits "exchange:token"; a key without a colon is all token.
func splitKey(key string) (exchange, token string) {
	for i := range key {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}
