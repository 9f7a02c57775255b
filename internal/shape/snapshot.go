package shape

import (
	"fmt"

	"shapefinder/internal/window"
)

// SnapshotVersion is bumped whenever DetectorSnapshot changes shape.
const SnapshotVersion = 2

// DetectorSnapshot is the serializable state of a Detector.
type DetectorSnapshot struct {
	Version    int        `json:"version"`
	Config     Config     `json:"config"`
	Base       int        `json:"base"`
	Values     []float64  `json:"values"`
	Checkpoint Checkpoint `json:"checkpoint"`
	Tail       Tail       `json:"tail"`
	Offset     int        `json:"offset"`
}

// Snapshot captures the detector so RestoreDetector can resume it exactly.
func (d *Detector) Snapshot() DetectorSnapshot {
	return DetectorSnapshot{
		Version:    SnapshotVersion,
		Config:     d.cfg,
		Base:       d.series.Base(),
		Values:     d.Window(),
		Checkpoint: d.cp,
		Tail:       d.tail.clone(),
		Offset:     d.offset,
	}
}

// RestoreDetector rebuilds a detector from a snapshot.
func RestoreDetector(snap DetectorSnapshot) (*Detector, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("shape: snapshot version %d, want %d", snap.Version, SnapshotVersion)
	}
	if err := snap.Config.Validate(); err != nil {
		return nil, err
	}
	for i, v := range snap.Values {
		if !finite(v) {
			return nil, fmt.Errorf("%w in snapshot at %d", ErrNonFinite, snap.Base+i)
		}
	}
	if err := snap.Checkpoint.Validate(len(snap.Values)); err != nil {
		return nil, err
	}
	if err := snap.Tail.validate(snap.Base); err != nil {
		return nil, err
	}
	for _, ref := range [...]int{snap.Checkpoint.KpUp, snap.Checkpoint.KpDown} {
		if ref != NoIndex && !snap.Tail.covers(snap.Base+ref, snap.Base) {
			return nil, fmt.Errorf("%w: reference %d before base not covered by tail", ErrCheckpointInconsistent, snap.Base+ref)
		}
	}
	if snap.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrCheckpointInconsistent, snap.Offset)
	}

	series := window.New(snap.Config.Window + 1)
	if err := series.Restore(snap.Base, snap.Values); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:     snap.Config,
		series:  series,
		machine: NewMachine(snap.Config),
		cp:      snap.Checkpoint,
		tail:    snap.Tail.clone(),
		offset:  snap.Offset,
	}, nil
}
