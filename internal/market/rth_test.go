package market

import (
	"testing"
	"time"
)

func TestIsRTH(t *testing.T) {
	ny := mustLoadLocation("America/New_York")

	cases := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"open", time.Date(2021, 1, 4, 9, 30, 0, 0, ny), true},
		{"close", time.Date(2021, 1, 4, 16, 0, 0, 0, ny), true},
		{"before open", time.Date(2021, 1, 4, 9, 29, 59, 0, ny), false},
		{"after close", time.Date(2021, 1, 4, 16, 0, 1, 0, ny), false},
		{"saturday", time.Date(2021, 1, 9, 12, 0, 0, 0, ny), false},
		{"sunday", time.Date(2021, 1, 10, 12, 0, 0, 0, ny), false},
		{"midday weekday", time.Date(2021, 1, 4, 12, 0, 0, 0, ny), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRTH(tc.ts); got != tc.want {
				t.Errorf("IsRTH(%v) = %v, want %v", tc.ts, got, tc.want)
			}
		})
	}
}

func TestIsRTHConvertsTimezone(t *testing.T) {
	// 14:30 UTC is 09:30 ET during standard winter offset.
	utc := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	if !IsRTH(utc) {
		t.Fatalf("expected 14:30 UTC (09:30 ET) to be within RTH")
	}
}
