package tracker

import (
	"fmt"
	"log"
	"time"

	"shapefinder/internal/shape"
)

// SnapshotVersion is the schema version written into EngineSnapshot.
const SnapshotVersion = 1

// DetectorState is one detector inside an EngineSnapshot.
type DetectorState struct {
	Exchange string                 `json:"exchange"`
	Token    string                 `json:"token"`
	TF       int                    `json:"tf"`
	LastTS   time.Time              `json:"last_ts"`
	Detector shape.DetectorSnapshot `json:"detector"`
}

// EngineSnapshot holds the full state of the tracker engine.
type EngineSnapshot struct {
	StreamID  string          `json:"stream_id"` // Redis Stream ID at checkpoint time
	Detectors []DetectorState `json:"detectors"`
	Version   int             `json:"version"` // schema version for forward compat
	TakenAt   time.Time       `json:"taken_at"`
}

// SnapshotEngine captures the state of every detector in e.
func SnapshotEngine(e *Engine, streamID string) *EngineSnapshot {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  SnapshotVersion,
		TakenAt:  time.Now().UTC(),
	}
	for tf, byKey := range e.state {
		for key, inst := range byKey {
			ex, tok := splitKey(key)
			snap.Detectors = append(snap.Detectors, DetectorState{
				Exchange: ex,
				Token:    tok,
				TF:       tf,
				LastTS:   inst.lastTS,
				Detector: inst.det.Snapshot(),
			})
		}
	}
	return snap
}

// RestoreEngine rebuilds an engine from a snapshot. Detectors on TFs that are
// no longer tracked are skipped; detectors whose stored config differs from
// the one now resolved for them, or whose state fails validation, are left
// out and start cold.
func RestoreEngine(opts Options, snap *EngineSnapshot) (*Engine, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("tracker: snapshot version %d, want %d", snap.Version, SnapshotVersion)
	}
	e := NewEngine(opts)

	restored, cold := 0, 0
	for _, ds := range snap.Detectors {
		byKey, ok := e.state[ds.TF]
		if !ok {
			continue // TF no longer configured: skip
		}
		key := ds.Token
		if ds.Exchange != "" {
			key = ds.Exchange + ":" + ds.Token
		}
		if ds.Detector.Config != e.configFor(key, ds.TF) {
			cold++
			log.Printf("[restorer] TF=%d %s: config changed, cold-starting", ds.TF, key)
			continue
		}
		det, err := shape.RestoreDetector(ds.Detector)
		if err != nil {
			cold++
			log.Printf("[restorer] TF=%d %s: %v, cold-starting", ds.TF, key, err)
			continue
		}
		byKey[key] = &instrument{det: det, lastTS: ds.LastTS}
		restored++
	}

	if cold > 0 {
		log.Printf("[restorer] restored %d detectors, cold-started %d", restored, cold)
	}
	return e, nil
}
