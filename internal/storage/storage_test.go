package storage

import (
	"testing"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
)

func row(status, details string, cycleSeq int64, execTime time.Time) model.RunnerExecution {
	return model.RunnerExecution{
		RunnerID: 1, UserID: 1, Symbol: "AAPL", Strategy: "breakout", Timeframe: 5,
		Status: status, Details: details, CycleSeq: cycleSeq, ExecutionTime: execTime,
	}
}

func TestCollapseBySeverityErrorBeatsSell(t *testing.T) {
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	rows := []model.RunnerExecution{
		row("sell", "", 1, base),
		row("error", "broker timeout", 1, base.Add(time.Second)),
	}
	out := collapseBySeverity(rows)
	if len(out) != 1 {
		t.Fatalf("expected 1 collapsed row, got %d", len(out))
	}
	if out[0].Status != "error" {
		t.Fatalf("expected error to win over sell, got %s", out[0].Status)
	}
}

func TestCollapseBySeveritySellBeatsBuy(t *testing.T) {
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	rows := []model.RunnerExecution{
		row("buy", "", 1, base),
		row("sell", "", 1, base.Add(time.Second)),
	}
	out := collapseBySeverity(rows)
	if out[0].Status != "sell" {
		t.Fatalf("expected sell to win over buy, got %s", out[0].Status)
	}
}

func TestCollapseBySeveritySkippedLosesToCompleted(t *testing.T) {
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	rows := []model.RunnerExecution{
		row("skipped-excluded-universe", "", 1, base),
		row("no_action", "", 1, base.Add(time.Second)),
	}
	out := collapseBySeverity(rows)
	if out[0].Status != "no_action" {
		t.Fatalf("expected no_action to beat skipped-*, got %s", out[0].Status)
	}
}

func TestCollapseBySeverityTieBreaksOnNonEmptyDetails(t *testing.T) {
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	rows := []model.RunnerExecution{
		row("no_action", "", 1, base),
		row("no_action", "waiting for breakout confirmation", 1, base),
	}
	out := collapseBySeverity(rows)
	if out[0].Details == "" {
		t.Fatalf("expected the row with non-empty details to win the tie")
	}
}

func TestCollapseBySeverityLastWriteWinsOnExactTie(t *testing.T) {
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	a := row("no_action", "first", 1, base)
	b := row("no_action", "second", 1, base)
	out := collapseBySeverity([]model.RunnerExecution{a, b})
	if out[0].Details != "second" {
		t.Fatalf("expected last-write-wins on exact severity/details/time tie, got %q", out[0].Details)
	}
}

func TestCollapseBySeverityLatestExecutionTimeWinsAmongEqualSeverity(t *testing.T) {
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	rows := []model.RunnerExecution{
		row("no_action", "older", 1, base),
		row("no_action", "newer", 1, base.Add(time.Minute)),
	}
	out := collapseBySeverity(rows)
	if out[0].Details != "newer" {
		t.Fatalf("expected the later execution_time to win, got %q", out[0].Details)
	}
}

func TestCollapseBySeverityKeepsDistinctKeysSeparate(t *testing.T) {
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	a := row("buy", "", 1, base)
	b := a
	b.Symbol = "MSFT"
	out := collapseBySeverity([]model.RunnerExecution{a, b})
	if len(out) != 2 {
		t.Fatalf("expected distinct (symbol) keys to stay separate, got %d rows", len(out))
	}
}

func TestNullableHelpers(t *testing.T) {
	if nullableFloat(0) != nil {
		t.Fatalf("expected nullableFloat(0) to be nil")
	}
	if v := nullableFloat(1.5); v == nil || *v != 1.5 {
		t.Fatalf("expected nullableFloat(1.5) to round-trip, got %v", v)
	}
	if nullableTime(time.Time{}) != nil {
		t.Fatalf("expected nullableTime(zero) to be nil")
	}
}
