// Package config holds the environment helpers shared by the binaries and
// the per-instrument detector overrides file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"shapefinder/internal/shape"
)

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Variables already set win; missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Printf("[config] skipping %s: %v", f, err)
		}
	}
}

// GetEnv returns the value of key, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// GetEnvInt parses key as an int; unset, malformed or non-positive values
// yield fallback.
func GetEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// ParseTFs parses a comma-separated list of timeframe durations in seconds.
func ParseTFs(s string) []int {
	parts := strings.Split(s, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid TF value: %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// ParseTokenKeys parses "exchangeType:token,..." into "exchange:token" keys.
// Exchange types follow the NSE convention: 1 = NSE, 2 = NFO, 3 = BSE; a
// named exchange is kept as is.
func ParseTokenKeys(s string) []string {
	if s == "" {
		return nil
	}
	var keys []string
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		exName := parts[0]
		switch parts[0] {
		case "1":
			exName = "NSE"
		case "2":
			exName = "NFO"
		case "3":
			exName = "BSE"
		}
		keys = append(keys, exName+":"+parts[1])
	}
	return keys
}

// ShapeFromEnv overlays SHAPE_* variables on base. Malformed values are
// errors rather than silently ignored, since they change detection output.
func ShapeFromEnv(base shape.Config) (shape.Config, error) {
	cfg := base
	ints := []struct {
		key string
		dst *int
	}{
		{"SHAPE_WINDOW", &cfg.Window},
		{"SHAPE_SMOOTH_WIDTH", &cfg.SmoothWidth},
		{"SHAPE_SMOOTH_DEPTH", &cfg.SmoothDepth},
		{"SHAPE_HALF_WIDTH_UP", &cfg.HalfWidthUp},
		{"SHAPE_HALF_WIDTH_DOWN", &cfg.HalfWidthDown},
		{"SHAPE_MARGIN", &cfg.Margin},
		{"SHAPE_CURSOR_ADVANCE", &cfg.CursorAdvance},
		{"SHAPE_RATCHET_ADVANCE", &cfg.RatchetAdvance},
	}
	for _, it := range ints {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return base, fmt.Errorf("config: %s=%q: %w", it.key, v, err)
		}
		*it.dst = n
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"SHAPE_VALIDATOR_PERCENT", &cfg.ValidatorPercent},
		{"SHAPE_BREAK_PERCENT", &cfg.BreakPercent},
	}
	for _, it := range floats {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return base, fmt.Errorf("config: %s=%q: %w", it.key, v, err)
		}
		*it.dst = f
	}

	if v := os.Getenv("SHAPE_TIE_POLICY"); v != "" {
		p, err := shape.ParseTiePolicy(v)
		if err != nil {
			return base, err
		}
		cfg.TiePolicy = p
	}

	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}
