package shape

import "fmt"

// Checkpoint is the resumable state of the breakout machine. Indices are
// relative to the base of the window they were taken against; NoIndex marks
// an unset or retired reference. A reference may trail the base, so it
// carries its own price.
type Checkpoint struct {
	State     State   `json:"state" yaml:"state"`
	KpUp      int     `json:"kp_up" yaml:"kp_up"`
	KpDown    int     `json:"kp_down" yaml:"kp_down"`
	Cursor    int     `json:"cursor" yaml:"cursor"`
	UpPrice   float64 `json:"kp_up_price" yaml:"kp_up_price"`
	DownPrice float64 `json:"kp_down_price" yaml:"kp_down_price"`
}

// InitialCheckpoint is the checkpoint before any key point was confirmed.
func InitialCheckpoint() Checkpoint {
	return Checkpoint{State: StateIdle, KpUp: NoIndex, KpDown: NoIndex, Cursor: NoIndex}
}

// Rebase shifts every live index down by d after the d oldest samples were
// dropped. It fails, leaving cp unchanged, if the cursor would go negative.
func (cp *Checkpoint) Rebase(d int) error {
	if d < 0 {
		return fmt.Errorf("%w: negative rebase %d", ErrCheckpointInconsistent, d)
	}
	if cp.Cursor != NoIndex && cp.Cursor-d < 0 {
		return fmt.Errorf("%w: cursor %d would fall below base after dropping %d", ErrCheckpointInconsistent, cp.Cursor, d)
	}
	cp.KpUp = shift(cp.KpUp, d)
	cp.KpDown = shift(cp.KpDown, d)
	cp.Cursor = shift(cp.Cursor, d)
	return nil
}

// Virtual converts cp to absolute indices for a window starting at base.
func (cp Checkpoint) Virtual(base int) Checkpoint {
	v := cp
	v.KpUp = shift(cp.KpUp, -base)
	v.KpDown = shift(cp.KpDown, -base)
	v.Cursor = shift(cp.Cursor, -base)
	return v
}

// Validate reports whether cp fits a window of n samples. References may be
// negative; the cursor may not.
func (cp Checkpoint) Validate(n int) error {
	if cp.Cursor != NoIndex && cp.Cursor < 0 {
		return fmt.Errorf("%w: negative cursor %d", ErrCheckpointInconsistent, cp.Cursor)
	}
	for _, v := range [...]int{cp.KpUp, cp.KpDown} {
		if v != NoIndex && v >= n {
			return fmt.Errorf("%w: reference %d outside window of %d", ErrCheckpointInconsistent, v, n)
		}
	}
	if cp.State != StateIdle && (cp.Cursor == NoIndex || cp.Cursor > n) {
		return fmt.Errorf("%w: cursor %d outside window of %d", ErrCheckpointInconsistent, cp.Cursor, n)
	}
	return nil
}

// minLive returns the smallest live reference (not the cursor), or NoIndex.
func (cp Checkpoint) minLive() int {
	m := NoIndex
	for _, v := range [...]int{cp.KpUp, cp.KpDown} {
		if v != NoIndex && (m == NoIndex || v < m) {
			m = v
		}
	}
	return m
}

func shift(i, d int) int {
	if i == NoIndex {
		return NoIndex
	}
	return i - d
}

func rel(i, base int) int { return shift(i, base) }
