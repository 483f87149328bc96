package health

import (
	"testing"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
)

func TestDegradeOnConsecutiveNoData(t *testing.T) {
	g := New(DefaultConfig())
	now := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		g.RecordNoData("AAPL", 5, now, false)
	}
	status, _ := g.Status("AAPL", 5, now)
	if status != model.HealthDegraded {
		t.Fatalf("expected DEGRADED after 3 consecutive no-data, got %s", status)
	}
}

func TestExcludeAtExactThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludeThresholdSessns = 10
	cfg.WindowDays = 5
	g := New(cfg)

	day := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	for i := 0; i < 9; i++ {
		g.RecordNoData("CMCSA", 5, day, false)
	}
	status, _ := g.Status("CMCSA", 5, day)
	if status == model.HealthExcluded {
		t.Fatalf("expected not yet EXCLUDED at 9 failures")
	}

	g.RecordNoData("CMCSA", 5, day, false)
	status, reason := g.Status("CMCSA", 5, day)
	if status != model.HealthExcluded {
		t.Fatalf("expected EXCLUDED at exactly 10 failures, got %s", status)
	}
	if reason != "coverage" {
		t.Fatalf("expected reason=coverage, got %s", reason)
	}
}

func TestTTLReAdmission(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 24 * time.Hour
	g := New(cfg)

	t0 := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	g.ExcludeForCoverage("CMCSA", 5, t0)

	status, _ := g.Status("CMCSA", 5, t0)
	if status != model.HealthExcluded {
		t.Fatalf("expected EXCLUDED immediately after coverage exclusion")
	}

	later := t0.Add(25 * time.Hour)
	status, reason := g.Status("CMCSA", 5, later)
	if status != model.HealthHealthy {
		t.Fatalf("expected HEALTHY after TTL expiry, got %s", status)
	}
	if reason != "" {
		t.Fatalf("expected reason cleared on re-admission, got %q", reason)
	}
}

func TestMarkCleanPassResetsCounters(t *testing.T) {
	g := New(DefaultConfig())
	now := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	g.RecordNoData("AAPL", 5, now, false)
	g.RecordNoData("AAPL", 5, now, false)
	g.MarkCleanPass("AAPL", 5)
	// One more no-data signal should not degrade (2 + 1 would reach the
	// threshold of 3), since the clean pass reset the consecutive counters.
	g.RecordNoData("AAPL", 5, now, false)
	status, _ := g.Status("AAPL", 5, now)
	if status != model.HealthHealthy {
		t.Fatalf("expected HEALTHY after clean pass reset counters, got %s", status)
	}
}
