// Package window provides a bounded, append-only float64 series addressed by
// virtual index. The oldest retained sample sits at Base(); evicting samples
// with Shift advances Base so indices handed out earlier stay meaningful.
package window

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned for reads outside [Base(), End()).
	ErrOutOfRange = errors.New("window: index out of range")
	// ErrShiftTooLarge is returned when Shift is asked to evict more than Len().
	ErrShiftTooLarge = errors.New("window: shift exceeds length")
)

// Series is a windowed sample buffer. Not safe for concurrent use.
type Series struct {
	buf  []float64
	head int // physical position of Base() inside buf
	base int // virtual index of buf[head]
}

// New creates a Series with room for capacity samples before it has to grow.
// capacity only sizes the buffer: a Series never evicts on its own, and the
// owner decides when to Shift. The shape detector trims in Detector.retain,
// where eviction must respect its checkpoint cursor.
func New(capacity int) *Series {
	if capacity < 2 {
		capacity = 2
	}
	return &Series{buf: make([]float64, 0, capacity)}
}

// Append adds one sample at virtual index End(). When the buffer is full it
// first reclaims space freed by Shift, and grows only if none was freed.
func (s *Series) Append(v float64) {
	if len(s.buf) == cap(s.buf) && s.head > 0 {
		// Reclaim the evicted prefix before growing.
		n := copy(s.buf, s.buf[s.head:])
		s.buf = s.buf[:n]
		s.head = 0
	}
	s.buf = append(s.buf, v)
}

// Shift evicts the oldest n samples and advances Base by n.
func (s *Series) Shift(n int) error {
	if n < 0 || n > s.Len() {
		return fmt.Errorf("%w: shift %d, len %d", ErrShiftTooLarge, n, s.Len())
	}
	s.head += n
	s.base += n
	if s.head == len(s.buf) {
		s.buf = s.buf[:0]
		s.head = 0
	}
	return nil
}

// At returns the sample at virtual index i.
func (s *Series) At(i int) (float64, error) {
	if i < s.base || i >= s.End() {
		return 0, fmt.Errorf("%w: %d not in [%d, %d)", ErrOutOfRange, i, s.base, s.End())
	}
	return s.buf[s.head+i-s.base], nil
}

// Base returns the virtual index of the oldest retained sample.
func (s *Series) Base() int { return s.base }

// Len returns the number of retained samples.
func (s *Series) Len() int { return len(s.buf) - s.head }

// End returns the virtual index the next Append will occupy.
func (s *Series) End() int { return s.base + s.Len() }

// Values returns the retained samples, oldest first. The slice aliases
// internal storage and must not be modified or kept past the next Append.
func (s *Series) Values() []float64 {
	return s.buf[s.head:]
}

// Clone returns an independent copy of the series.
func (s *Series) Clone() *Series {
	out := New(cap(s.buf))
	out.buf = append(out.buf, s.Values()...)
	out.base = s.base
	return out
}

// Restore replaces the contents with values starting at virtual index base.
func (s *Series) Restore(base int, values []float64) error {
	if base < 0 {
		return fmt.Errorf("%w: negative base %d", ErrOutOfRange, base)
	}
	s.buf = append(s.buf[:0], values...)
	s.head = 0
	s.base = base
	return nil
}
