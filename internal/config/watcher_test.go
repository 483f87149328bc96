package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPaceWatcherPicksUpChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pace.json")
	if err := os.WriteFile(path, []byte(`{"enabled":false,"pace_seconds":0}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := NewPaceWatcher(path, 20*time.Millisecond)
	changes := make(chan Pace, 4)
	w.OnChange(func(p Pace) { changes <- p })
	w.Start()
	defer w.Stop()

	if got := w.Current(); got.Enabled {
		t.Fatalf("expected initial pace disabled, got %+v", got)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"enabled":true,"pace_seconds":1.5}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case p := <-changes:
		if !p.Enabled || p.PaceSeconds != 1.5 {
			t.Fatalf("unexpected pace change: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for pace change notification")
	}
}
