package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/cratequiet/pkg/store"
	"github.com/MrWong99/cratequiet/pkg/store/filestore"
	"github.com/MrWong99/cratequiet/pkg/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := filestore.Open(t.TempDir())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}

func TestStore_Reopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := filestore.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.AppendBarkEvent(ctx, store.BarkEvent{Timestamp: ts.Add(time.Duration(i) * time.Second), Duration: time.Second}); err != nil {
			t.Fatalf("AppendBarkEvent: %v", err)
		}
	}
	if _, err := s.TrimBarkEvents(ctx, 3); err != nil {
		t.Fatalf("TrimBarkEvents: %v", err)
	}
	if err := s.AppendSession(ctx, store.TrainingSession{ID: "s1", Date: ts, DurationSeconds: 12, Success: true}); err != nil {
		t.Fatalf("AppendSession: %v", err)
	}
	settings := store.DefaultSettings()
	settings.Sensitivity = 3
	if err := s.WriteSettings(ctx, settings); err != nil {
		t.Fatalf("WriteSettings: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := filestore.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	barks, _ := reopened.BarkEvents(ctx, 0)
	if len(barks) != 3 || !barks[0].Timestamp.Equal(ts.Add(2*time.Second)) {
		t.Errorf("barks after reopen = %v", barks)
	}
	sessions, _ := reopened.Sessions(ctx)
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Errorf("sessions after reopen = %v", sessions)
	}
	got, err := reopened.ReadSettings(ctx)
	if err != nil || got.Sensitivity != 3 {
		t.Errorf("settings after reopen = %+v, %v", got, err)
	}
}

func barkLines(t *testing.T, dir string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "barks.jsonl"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.Count(string(data), "\n")
}

func TestStore_TrimRewritesInBatches(t *testing.T) {
	t.Parallel()

	const keep = 10
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := filestore.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	appendAndTrim := func(from, to int) {
		t.Helper()
		for i := from; i < to; i++ {
			if err := s.AppendBarkEvent(ctx, store.BarkEvent{Timestamp: base.Add(time.Duration(i) * time.Second)}); err != nil {
				t.Fatalf("AppendBarkEvent: %v", err)
			}
			if _, err := s.TrimBarkEvents(ctx, keep); err != nil {
				t.Fatalf("TrimBarkEvents: %v", err)
			}
		}
	}

	appendAndTrim(0, 2*keep)
	if n := barkLines(t, dir); n != 2*keep {
		t.Errorf("file lines after %d appends = %d, want %d (no rewrite yet)", 2*keep, n, 2*keep)
	}

	const total = 3 * filestore.TrimSlack
	appendAndTrim(2*keep, total)
	if n := barkLines(t, dir); n > keep+filestore.TrimSlack {
		t.Errorf("file lines = %d, want at most %d", n, keep+filestore.TrimSlack)
	}

	events, err := s.BarkEvents(ctx, 0)
	if err != nil {
		t.Fatalf("BarkEvents: %v", err)
	}
	if len(events) != keep {
		t.Fatalf("events = %d, want %d", len(events), keep)
	}
	if !events[0].Timestamp.Equal(base.Add((total - keep) * time.Second)) {
		t.Errorf("oldest = %v, want the newest %d appended", events[0].Timestamp, keep)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := barkLines(t, dir); n != keep {
		t.Errorf("file lines after Close = %d, want %d", n, keep)
	}
}

func TestOpen_WithRetentionCapsUncompactedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := filestore.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 8; i++ {
		_ = s.AppendBarkEvent(ctx, store.BarkEvent{Timestamp: base.Add(time.Duration(i) * time.Second)})
		_, _ = s.TrimBarkEvents(ctx, 5)
	}
	// No Close: the file still carries the trimmed lines.

	reopened, err := filestore.Open(dir, filestore.WithRetention(5))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	events, _ := reopened.BarkEvents(ctx, 0)
	if len(events) != 5 || !events[0].Timestamp.Equal(base.Add(3*time.Second)) {
		t.Errorf("events after reopen = %v, want the newest 5", events)
	}
}

func TestStore_BarkFileIsJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := filestore.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	_ = s.AppendBarkEvent(ctx, store.BarkEvent{Volume: 80, Duration: time.Second, Confidence: 0.9})
	_ = s.AppendBarkEvent(ctx, store.BarkEvent{Volume: 70, Duration: time.Second, Confidence: 0.8})

	data, err := os.ReadFile(filepath.Join(dir, "barks.jsonl"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"duration_ns":1000000000`) {
		t.Errorf("line %q missing duration_ns", lines[0])
	}
}

func TestOpen_CorruptLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "barks.jsonl"), []byte("{not json}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := filestore.Open(dir); err == nil {
		t.Fatal("expected error for corrupt bark log")
	}
}
