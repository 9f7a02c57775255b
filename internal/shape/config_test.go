package shape

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Lag() != 4 {
		t.Errorf("Lag() = %d, want 4", cfg.Lag())
	}
	if cfg.Guard() != 17 {
		t.Errorf("Guard() = %d, want 17", cfg.Guard())
	}
	if cfg.ConfirmDelay() != 16 {
		t.Errorf("ConfirmDelay() = %d, want 16", cfg.ConfirmDelay())
	}
	if cfg.MinWindow() != 40 {
		t.Errorf("MinWindow() = %d, want 40", cfg.MinWindow())
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"window too small":   func(c *Config) { c.Window = 10 },
		"zero width":         func(c *Config) { c.SmoothWidth = 0 },
		"negative depth":     func(c *Config) { c.SmoothDepth = -1 },
		"zero half width":    func(c *Config) { c.HalfWidthDown = 0 },
		"margin too wide":    func(c *Config) { c.Margin = 7 },
		"validator too wide": func(c *Config) { c.ValidatorPercent = 0.6 },
		"validator zero":     func(c *Config) { c.ValidatorPercent = 0 },
		"break negative":     func(c *Config) { c.BreakPercent = -0.01 },
		"tie policy":         func(c *Config) { c.TiePolicy = 7 },
		"cursor advance":     func(c *Config) { c.CursorAdvance = 2 },
		"ratchet advance":    func(c *Config) { c.RatchetAdvance = -1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: Validate() = %v, want ErrInvalidConfig", name, err)
		}
	}
}

func TestTiePolicy_Text(t *testing.T) {
	for in, want := range map[string]TiePolicy{
		"prefer-up": TiePreferUp, "UP": TiePreferUp, "down": TiePreferDown, " prefer-down ": TiePreferDown,
	} {
		got, err := ParseTiePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseTiePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseTiePolicy("sideways"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ParseTiePolicy(sideways) err = %v", err)
	}

	cfg := DefaultConfig()
	cfg.TiePolicy = TiePreferUp
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var back Config
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != cfg {
		t.Errorf("config JSON round trip: got %+v, want %+v", back, cfg)
	}
}
