// Package storetest holds a conformance suite that every [store.Store]
// backend runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/cratequiet/pkg/store"
)

// Run exercises s against the [store.Store] contract. newStore must return an
// empty store; Run calls it once per sub-test.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("SettingsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReadSettings(context.Background())
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("ReadSettings on empty store: got %v, want ErrNotFound", err)
		}
	})

	t.Run("SettingsLastWriteWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := store.DefaultSettings()
		second := store.DefaultSettings()
		second.Sensitivity = 9
		second.DogName = "Biscuit"
		if err := s.WriteSettings(ctx, first); err != nil {
			t.Fatalf("WriteSettings: %v", err)
		}
		if err := s.WriteSettings(ctx, second); err != nil {
			t.Fatalf("WriteSettings: %v", err)
		}
		got, err := s.ReadSettings(ctx)
		if err != nil {
			t.Fatalf("ReadSettings: %v", err)
		}
		if got != second {
			t.Errorf("ReadSettings = %+v, want %+v", got, second)
		}
	})

	t.Run("SettingsRejectInvalid", func(t *testing.T) {
		s := newStore(t)
		bad := store.DefaultSettings()
		bad.Sensitivity = 0
		err := s.WriteSettings(context.Background(), bad)
		if !errors.Is(err, store.ErrInvalidSettings) {
			t.Fatalf("WriteSettings(invalid): got %v, want ErrInvalidSettings", err)
		}
	})

	t.Run("BarkRetention", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 1001; i++ {
			ev := store.BarkEvent{
				Timestamp:  base.Add(time.Duration(i) * time.Second),
				Volume:     float64(i % 100),
				Duration:   time.Second,
				Confidence: 0.8,
			}
			if err := s.AppendBarkEvent(ctx, ev); err != nil {
				t.Fatalf("AppendBarkEvent #%d: %v", i, err)
			}
		}
		removed, err := s.TrimBarkEvents(ctx, store.RetentionLimit)
		if err != nil {
			t.Fatalf("TrimBarkEvents: %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}
		events, err := s.BarkEvents(ctx, 0)
		if err != nil {
			t.Fatalf("BarkEvents: %v", err)
		}
		if len(events) != store.RetentionLimit {
			t.Fatalf("len = %d, want %d", len(events), store.RetentionLimit)
		}
		if !events[0].Timestamp.Equal(base.Add(time.Second)) {
			t.Errorf("oldest = %v, want the second appended event", events[0].Timestamp)
		}
		if events[0].Duration != time.Second {
			t.Errorf("duration = %v, want 1s", events[0].Duration)
		}

		tail, err := s.BarkEvents(ctx, 3)
		if err != nil {
			t.Fatalf("BarkEvents(3): %v", err)
		}
		if len(tail) != 3 || !tail[2].Timestamp.Equal(base.Add(1000*time.Second)) {
			t.Errorf("BarkEvents(3) = %v, want the newest three", tail)
		}
	})

	t.Run("TrimNoop", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.AppendBarkEvent(ctx, store.BarkEvent{Timestamp: time.Now().UTC()})
		removed, err := s.TrimBarkEvents(ctx, 10)
		if err != nil || removed != 0 {
			t.Fatalf("TrimBarkEvents = %d, %v; want 0, nil", removed, err)
		}
	})

	t.Run("SessionsAppendOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		want := []store.TrainingSession{
			{ID: "a", Date: base, DurationSeconds: 30, BarksDetected: 7, Success: false},
			{ID: "b", Date: base.Add(time.Hour), DurationSeconds: 60, BarksDetected: 0, Success: true, Notes: "calm"},
		}
		for _, ts := range want {
			if err := s.AppendSession(ctx, ts); err != nil {
				t.Fatalf("AppendSession: %v", err)
			}
		}
		got, err := s.Sessions(ctx)
		if err != nil {
			t.Fatalf("Sessions: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].ID != want[i].ID || got[i].BarksDetected != want[i].BarksDetected ||
				got[i].Success != want[i].Success || got[i].DurationSeconds != want[i].DurationSeconds ||
				!got[i].Date.Equal(want[i].Date) || got[i].Notes != want[i].Notes {
				t.Errorf("session %d = %+v, want %+v", i, got[i], want[i])
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		if err := s.AppendBarkEvent(ctx, store.BarkEvent{Timestamp: now, Volume: 80, Confidence: 0.9}); err != nil {
			t.Fatalf("AppendBarkEvent: %v", err)
		}
		if err := s.AppendSession(ctx, store.TrainingSession{ID: "a", Date: now, DurationSeconds: 5}); err != nil {
			t.Fatalf("AppendSession: %v", err)
		}
		if err := s.WriteSettings(ctx, store.DefaultSettings()); err != nil {
			t.Fatalf("WriteSettings: %v", err)
		}

		if err := s.Reset(ctx); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		if evs, err := s.BarkEvents(ctx, 0); err != nil || len(evs) != 0 {
			t.Errorf("BarkEvents after Reset = %v, %v; want none", evs, err)
		}
		if ss, err := s.Sessions(ctx); err != nil || len(ss) != 0 {
			t.Errorf("Sessions after Reset = %v, %v; want none", ss, err)
		}
		if _, err := s.ReadSettings(ctx); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("ReadSettings after Reset: got %v, want ErrNotFound", err)
		}

		// The store stays usable.
		if err := s.AppendBarkEvent(ctx, store.BarkEvent{Timestamp: now.Add(time.Second)}); err != nil {
			t.Fatalf("AppendBarkEvent after Reset: %v", err)
		}
		if evs, _ := s.BarkEvents(ctx, 0); len(evs) != 1 {
			t.Errorf("BarkEvents after re-append = %d, want 1", len(evs))
		}
	})
}
