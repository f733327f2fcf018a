// Package qzconfig holds QuickZone's tunable engine parameters and the
// YAML defaults/loader for them, in the shape of a host application
// config file rather than scattered constants.
package qzconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds every knob an embedding host may want to tune
// without recompiling: the scheduler's frame budget, per-group
// defaults used when a Group is created without overrides, and the
// clamp bounds applied to the scheduler's measured Δt.
type EngineConfig struct {
	// FrameBudgetMillis bounds the wall-clock time one Scheduler tick
	// may spend on ZoneStore flush plus round-robin entity processing.
	FrameBudgetMillis float64 `yaml:"frame_budget_millis"`

	// DefaultGroup holds the values Group.new falls back to when the
	// host omits updateRate/precision.
	DefaultGroup GroupDefaults `yaml:"default_group"`

	// MinDeltaSeconds/MaxDeltaSeconds clamp the scheduler's measured
	// tick interval before it feeds the per-group quota formula.
	MinDeltaSeconds float64 `yaml:"min_delta_seconds"`
	MaxDeltaSeconds float64 `yaml:"max_delta_seconds"`
}

// GroupDefaults holds the fallback update rate and precision applied
// to a Group created without explicit values.
type GroupDefaults struct {
	UpdateRateHz float64 `yaml:"update_rate_hz"`
	PrecisionM   float64 `yaml:"precision_m"`
}

// Default returns QuickZone's out-of-the-box configuration: a 1ms
// frame budget, 30Hz/zero-precision groups, and a Δt clamp of
// [1/240, 1/15] seconds.
func Default() EngineConfig {
	return EngineConfig{
		FrameBudgetMillis: 1.0,
		DefaultGroup: GroupDefaults{
			UpdateRateHz: 30,
			PrecisionM:   0,
		},
		MinDeltaSeconds: 1.0 / 240.0,
		MaxDeltaSeconds: 1.0 / 15.0,
	}
}

// FrameBudget returns the configured frame budget as a time.Duration.
func (c EngineConfig) FrameBudget() time.Duration {
	return time.Duration(c.FrameBudgetMillis * float64(time.Millisecond))
}

// Load reads an EngineConfig from a YAML file at path, starting from
// Default() so a partial file only overrides the fields it sets.
func Load(path string) (EngineConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("qzconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("qzconfig: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, fmt.Errorf("qzconfig: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports whether the configuration is internally consistent.
func (c EngineConfig) Validate() error {
	if c.FrameBudgetMillis <= 0 {
		return fmt.Errorf("frame_budget_millis must be positive, got %v", c.FrameBudgetMillis)
	}
	if c.MinDeltaSeconds <= 0 || c.MaxDeltaSeconds <= 0 {
		return fmt.Errorf("delta bounds must be positive")
	}
	if c.MinDeltaSeconds > c.MaxDeltaSeconds {
		return fmt.Errorf("min_delta_seconds (%v) exceeds max_delta_seconds (%v)", c.MinDeltaSeconds, c.MaxDeltaSeconds)
	}
	if c.DefaultGroup.UpdateRateHz < 0 {
		return fmt.Errorf("default_group.update_rate_hz must be non-negative")
	}
	if c.DefaultGroup.PrecisionM < 0 {
		return fmt.Errorf("default_group.precision_m must be non-negative")
	}
	return nil
}
