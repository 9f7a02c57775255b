package shape

import (
	"fmt"
	"strings"
)

// TiePolicy decides which breakout wins when the up and down thresholds are
// first crossed at the same index.
type TiePolicy int

const (
	TiePreferDown TiePolicy = iota
	TiePreferUp
)

func (p TiePolicy) String() string {
	if p == TiePreferUp {
		return "prefer-up"
	}
	return "prefer-down"
}

// ParseTiePolicy accepts "prefer-up"/"up" and "prefer-down"/"down".
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prefer-up", "up":
		return TiePreferUp, nil
	case "prefer-down", "down":
		return TiePreferDown, nil
	}
	return 0, fmt.Errorf("%w: unknown tie policy %q", ErrInvalidConfig, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p TiePolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *TiePolicy) UnmarshalText(b []byte) error {
	v, err := ParseTiePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Config holds every tunable of the detection pipeline. It is fixed when a
// Detector is constructed and passed by value to each stage.
type Config struct {
	Window        int `json:"window" yaml:"window"`                   // retained samples before trimming
	SmoothWidth   int `json:"smooth_width" yaml:"smooth_width"`       // SMA width
	SmoothDepth   int `json:"smooth_depth" yaml:"smooth_depth"`       // SMA repetitions
	HalfWidthUp   int `json:"half_width_up" yaml:"half_width_up"`     // MAX pass half-width
	HalfWidthDown int `json:"half_width_down" yaml:"half_width_down"` // MIN pass half-width
	Margin        int `json:"margin" yaml:"margin"`

	ValidatorPercent float64   `json:"validator_percent" yaml:"validator_percent"`
	BreakPercent     float64   `json:"break_percent" yaml:"break_percent"`
	TiePolicy        TiePolicy `json:"tie_policy" yaml:"tie_policy"`

	// CursorAdvance is added to a breakout index to get the next cursor.
	CursorAdvance int `json:"cursor_advance" yaml:"cursor_advance"`
	// RatchetAdvance is the offset from the cursor at which the ratchet
	// search starts: 0 lets a key point on the cursor replace the reference,
	// 1 requires one strictly beyond it.
	RatchetAdvance int `json:"ratchet_advance" yaml:"ratchet_advance"`
}

// DefaultConfig returns the stock parameters: window 100, SMA(3) twice,
// half-widths 8/6 with margin 3, validator 10%, breakout 0.1%.
func DefaultConfig() Config {
	return Config{
		Window:           100,
		SmoothWidth:      3,
		SmoothDepth:      2,
		HalfWidthUp:      8,
		HalfWidthDown:    6,
		Margin:           3,
		ValidatorPercent: 0.1,
		BreakPercent:     0.001,
		TiePolicy:        TiePreferDown,
		CursorAdvance:    1,
		RatchetAdvance:   1,
	}
}

// Lag is the number of raw samples of history one smoothed value needs.
func (c Config) Lag() int { return (c.SmoothWidth - 1) * c.SmoothDepth }

// MaxHalfWidth returns the larger of the two scan half-widths.
func (c Config) MaxHalfWidth() int {
	if c.HalfWidthUp > c.HalfWidthDown {
		return c.HalfWidthUp
	}
	return c.HalfWidthDown
}

// Guard is the distance below a key point index at which the raw data that
// can confirm it starts.
func (c Config) Guard() int { return 2*c.MaxHalfWidth() - c.Margin + c.Lag() }

// ConfirmDelay bounds how far a key point index can trail the step at which
// it is confirmed.
func (c Config) ConfirmDelay() int { return c.Guard() - 1 }

// MinWindow is the smallest Window that keeps streaming equivalent to batch.
func (c Config) MinWindow() int { return 4*c.MaxHalfWidth() + 2*c.Lag() }

// Validate reports the first unusable parameter.
func (c Config) Validate() error {
	switch {
	case c.SmoothWidth < 1:
		return fmt.Errorf("%w: smooth width %d < 1", ErrInvalidConfig, c.SmoothWidth)
	case c.SmoothDepth < 0:
		return fmt.Errorf("%w: smooth depth %d < 0", ErrInvalidConfig, c.SmoothDepth)
	case c.HalfWidthUp < 1 || c.HalfWidthDown < 1:
		return fmt.Errorf("%w: half widths must be >= 1 (up=%d down=%d)", ErrInvalidConfig, c.HalfWidthUp, c.HalfWidthDown)
	case c.Margin < 0 || c.Margin > c.HalfWidthUp || c.Margin > c.HalfWidthDown:
		return fmt.Errorf("%w: margin %d outside [0, min half width]", ErrInvalidConfig, c.Margin)
	case !(c.ValidatorPercent > 0 && c.ValidatorPercent < 0.5):
		return fmt.Errorf("%w: validator percent %v outside (0, 0.5)", ErrInvalidConfig, c.ValidatorPercent)
	case !(c.BreakPercent >= 0 && c.BreakPercent < 1):
		return fmt.Errorf("%w: break percent %v outside [0, 1)", ErrInvalidConfig, c.BreakPercent)
	case c.TiePolicy != TiePreferDown && c.TiePolicy != TiePreferUp:
		return fmt.Errorf("%w: tie policy %d", ErrInvalidConfig, c.TiePolicy)
	case c.CursorAdvance != 0 && c.CursorAdvance != 1:
		return fmt.Errorf("%w: cursor advance %d not 0 or 1", ErrInvalidConfig, c.CursorAdvance)
	case c.RatchetAdvance != 0 && c.RatchetAdvance != 1:
		return fmt.Errorf("%w: ratchet advance %d not 0 or 1", ErrInvalidConfig, c.RatchetAdvance)
	case c.Window < c.MinWindow():
		return fmt.Errorf("%w: window %d < minimum %d", ErrInvalidConfig, c.Window, c.MinWindow())
	}
	return nil
}
