package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"shapefinder/internal/shape"
)

// Params is a partial shape.Config; nil fields inherit.
type Params struct {
	Window           *int             `json:"window,omitempty" yaml:"window"`
	SmoothWidth      *int             `json:"smooth_width,omitempty" yaml:"smooth_width"`
	SmoothDepth      *int             `json:"smooth_depth,omitempty" yaml:"smooth_depth"`
	HalfWidthUp      *int             `json:"half_width_up,omitempty" yaml:"half_width_up"`
	HalfWidthDown    *int             `json:"half_width_down,omitempty" yaml:"half_width_down"`
	Margin           *int             `json:"margin,omitempty" yaml:"margin"`
	ValidatorPercent *float64         `json:"validator_percent,omitempty" yaml:"validator_percent"`
	BreakPercent     *float64         `json:"break_percent,omitempty" yaml:"break_percent"`
	TiePolicy        *shape.TiePolicy `json:"tie_policy,omitempty" yaml:"tie_policy"`
	CursorAdvance    *int             `json:"cursor_advance,omitempty" yaml:"cursor_advance"`
	RatchetAdvance   *int             `json:"ratchet_advance,omitempty" yaml:"ratchet_advance"`
}

// Apply returns cfg with every non-nil field of p set.
func (p Params) Apply(cfg shape.Config) shape.Config {
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&cfg.Window, p.Window)
	setInt(&cfg.SmoothWidth, p.SmoothWidth)
	setInt(&cfg.SmoothDepth, p.SmoothDepth)
	setInt(&cfg.HalfWidthUp, p.HalfWidthUp)
	setInt(&cfg.HalfWidthDown, p.HalfWidthDown)
	setInt(&cfg.Margin, p.Margin)
	setInt(&cfg.CursorAdvance, p.CursorAdvance)
	setInt(&cfg.RatchetAdvance, p.RatchetAdvance)
	if p.ValidatorPercent != nil {
		cfg.ValidatorPercent = *p.ValidatorPercent
	}
	if p.BreakPercent != nil {
		cfg.BreakPercent = *p.BreakPercent
	}
	if p.TiePolicy != nil {
		cfg.TiePolicy = *p.TiePolicy
	}
	return cfg
}

// InstrumentOverride applies Params to one "exchange:token". TF 0 matches
// every timeframe; an exact TF entry is applied after the wildcard one.
type InstrumentOverride struct {
	Key    string `yaml:"key"`
	TF     int    `yaml:"tf"`
	Params `yaml:",inline"`
}

// OverrideFile is the YAML layout:
//
//	defaults:
//	  break_percent: 0.002
//	instruments:
//	  - key: NSE:2885
//	    tf: 300
//	    half_width_up: 10
type OverrideFile struct {
	Defaults    Params               `yaml:"defaults"`
	Instruments []InstrumentOverride `yaml:"instruments"`
}

// Overrides resolves the effective detector config per instrument and TF.
// A nil *Overrides resolves every instrument to the base config.
type Overrides struct {
	defaults Params
	byKey    map[string][]InstrumentOverride
}

// LoadOverrides reads path. An empty path yields nil, nil.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read overrides: %w", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides decodes a YAML override document.
func ParseOverrides(data []byte) (*Overrides, error) {
	var f OverrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse overrides: %w", err)
	}
	o := &Overrides{defaults: f.Defaults, byKey: make(map[string][]InstrumentOverride)}
	for _, io := range f.Instruments {
		if io.Key == "" || io.TF < 0 {
			return nil, fmt.Errorf("config: override needs key and tf >= 0 (key=%q tf=%d)", io.Key, io.TF)
		}
		o.byKey[io.Key] = append(o.byKey[io.Key], io)
	}
	for k := range o.byKey {
		list := o.byKey[k]
		// wildcard TF first so exact entries win
		sort.SliceStable(list, func(i, j int) bool { return list[i].TF == 0 && list[j].TF != 0 })
	}
	return o, nil
}

// Resolve returns base with the defaults and every matching entry applied.
func (o *Overrides) Resolve(key string, tf int, base shape.Config) shape.Config {
	if o == nil {
		return base
	}
	cfg := o.defaults.Apply(base)
	for _, io := range o.byKey[key] {
		if io.TF == 0 || io.TF == tf {
			cfg = io.Params.Apply(cfg)
		}
	}
	return cfg
}

// Validate resolves every listed entry against base and reports the first
// unusable result.
func (o *Overrides) Validate(base shape.Config) error {
	if o == nil {
		return nil
	}
	if err := o.defaults.Apply(base).Validate(); err != nil {
		return fmt.Errorf("config: defaults: %w", err)
	}
	for key, list := range o.byKey {
		for _, io := range list {
			if err := o.Resolve(key, io.TF, base).Validate(); err != nil {
				return fmt.Errorf("config: override %s tf=%d: %w", key, io.TF, err)
			}
		}
	}
	return nil
}

// Len returns the number of instrument entries.
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, list := range o.byKey {
		n += len(list)
	}
	return n
}
