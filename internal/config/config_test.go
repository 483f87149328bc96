package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsNonPositiveStepSeconds(t *testing.T) {
	cfg := Default()
	cfg.Timing.StepSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for step_seconds=0")
	}
}

func TestValidateRejectsTopupBelowFloor(t *testing.T) {
	cfg := Default()
	cfg.Engine.MinCashFloor = 1e7
	cfg.Engine.TopupCashTo = 5e6
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when topup_cash_to < min_cash_floor")
	}
}

func TestValidateRejectsBadCutoffDate(t *testing.T) {
	cfg := Default()
	cfg.Universe.CutoffDate = "not-a-date"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for malformed cutoff_date")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/to/config.json")
	if err != nil {
		t.Fatalf("Load with missing file should fall back to defaults, got %v", err)
	}
	if cfg.Timing.StepSeconds != 300 {
		t.Fatalf("expected default step_seconds=300, got %d", cfg.Timing.StepSeconds)
	}
}

func TestEnvOverridesStepSeconds(t *testing.T) {
	t.Setenv("SIM_STEP_SECONDS", "60")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timing.StepSeconds != 60 {
		t.Fatalf("expected env override step_seconds=60, got %d", cfg.Timing.StepSeconds)
	}
}
