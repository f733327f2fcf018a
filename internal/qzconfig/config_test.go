package qzconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate cleanly: %v", err)
	}
}

func TestLoadOverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yamlBody := "frame_budget_millis: 2.5\ndefault_group:\n  update_rate_hz: 60\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FrameBudgetMillis != 2.5 {
		t.Errorf("FrameBudgetMillis = %v, want 2.5", cfg.FrameBudgetMillis)
	}
	if cfg.DefaultGroup.UpdateRateHz != 60 {
		t.Errorf("UpdateRateHz = %v, want 60", cfg.DefaultGroup.UpdateRateHz)
	}
	// Untouched by the file, should retain Default()'s value.
	if cfg.MinDeltaSeconds != Default().MinDeltaSeconds {
		t.Errorf("MinDeltaSeconds = %v, want default %v", cfg.MinDeltaSeconds, Default().MinDeltaSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cfg := Default()
	cfg.MinDeltaSeconds = 1
	cfg.MaxDeltaSeconds = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when min > max")
	}
}

func TestFrameBudgetDuration(t *testing.T) {
	cfg := Default()
	if got := cfg.FrameBudget().Milliseconds(); got != 1 {
		t.Errorf("FrameBudget() = %v ms, want 1", got)
	}
}
