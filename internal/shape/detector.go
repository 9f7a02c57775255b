package shape

import (
	"fmt"

	"shapefinder/internal/window"
)

// Detector is the streaming form of Analyze. It retains a bounded window of
// raw samples, re-runs detection over it on every Ingest and carries the
// breakout machine across calls as a window-relative Checkpoint. Samples
// trimmed while a reference still points before them are summarised in a
// Tail instead of being retained.
//
// A Detector is not safe for concurrent use.
type Detector struct {
	cfg     Config
	series  *window.Series
	machine *Machine
	cp      Checkpoint
	tail    Tail
	offset  int // trims deferred because the cursor was pinned
}

// NewDetector validates cfg and returns an empty detector.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:     cfg,
		series:  window.New(cfg.Window + 1),
		machine: NewMachine(cfg),
		cp:      InitialCheckpoint(),
	}, nil
}

// Ingest appends one sample and reports what it caused. Breakouts may carry
// indices earlier than the sample when a late key point opened a search over
// older data. A non-finite sample returns ErrNonFinite and changes nothing.
func (d *Detector) Ingest(v float64) (SignalSet, error) {
	if !finite(v) {
		return SignalSet{}, fmt.Errorf("%w: %v", ErrNonFinite, v)
	}
	d.series.Append(v)

	t := d.series.End() - 1
	base := d.series.Base()
	raw := d.series.Values()
	guard := d.cfg.Guard()

	det := detect(base, raw, d.cfg, false)
	keys := NewKeyIndex()
	var fresh []KeyPoint
	for _, kp := range det.keys {
		// Near the trimmed edge part of a key point's confirming history is
		// gone, so the window may disagree with the full series there.
		if base > 0 && kp.Index < base+guard {
			continue
		}
		keys.Insert(kp)
		if kp.Conf == t {
			fresh = append(fresh, kp)
		}
	}
	sortByIndex(fresh)

	d.machine.Seed(d.cp, base)
	bs, err := d.machine.Step(t, base, raw, &d.tail, keys, fresh)
	if err != nil {
		return SignalSet{}, err
	}
	d.cp = d.machine.Checkpoint(base)

	out := SignalSet{Index: t, Breakouts: bs, KeyPoints: fresh}
	for _, b := range bs {
		if b.Index == t {
			out.Signal = b.Direction.Sign()
		}
	}

	if err := d.retain(); err != nil {
		return out, err
	}
	return out, nil
}

// retain drops the oldest samples once the window is over capacity, unless
// the cursor still needs them. Dropped samples a live reference can reach
// move into the tail.
func (d *Detector) retain() error {
	if d.series.Len() <= d.cfg.Window {
		return nil
	}
	n := 1 + d.offset
	if d.pinned(n) {
		d.offset++
		return nil
	}
	next := d.cp
	if err := next.Rebase(n); err != nil {
		return err
	}
	base := d.series.Base()
	dropped := append([]float64(nil), d.series.Values()[:n]...)
	if err := d.series.Shift(n); err != nil {
		return err
	}
	floor := d.cp.minLive()
	if floor != NoIndex {
		floor += base
	}
	d.tail.absorb(base, dropped, floor)
	d.cp = next
	d.offset = 0
	return nil
}

// pinned reports whether dropping n samples would leave the cursor closer
// to the base than a key point can be confirmed from.
func (d *Detector) pinned(n int) bool {
	return d.cp.State != StateIdle && d.cp.Cursor != NoIndex && d.cp.Cursor-n < d.cfg.Guard()
}

// Config returns the detector parameters.
func (d *Detector) Config() Config { return d.cfg }

// Base is the virtual index of the oldest retained sample.
func (d *Detector) Base() int { return d.series.Base() }

// Len is the number of retained samples.
func (d *Detector) Len() int { return d.series.Len() }

// Next is the virtual index the next sample will get.
func (d *Detector) Next() int { return d.series.End() }

// Offset is the number of trims currently deferred.
func (d *Detector) Offset() int { return d.offset }

// Checkpoint returns the machine state relative to Base.
func (d *Detector) Checkpoint() Checkpoint { return d.cp }

// VirtualCheckpoint returns the machine state in absolute indices.
func (d *Detector) VirtualCheckpoint() Checkpoint { return d.cp.Virtual(d.series.Base()) }

// Tail returns a copy of the summary of trimmed samples.
func (d *Detector) Tail() Tail { return d.tail.clone() }

// Window returns a copy of the retained samples.
func (d *Detector) Window() []float64 {
	return append([]float64(nil), d.series.Values()...)
}
