// Package stats computes training progress summaries from recorded sessions.
package stats

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cratequiet/pkg/store"
)

// Period selects the sessions a summary covers.
type Period string

const (
	Week  Period = "week"
	Month Period = "month"
	All   Period = "all"
)

// ParsePeriod validates s. The empty string means [Week].
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return Week, nil
	case Week, Month, All:
		return p, nil
	default:
		return "", fmt.Errorf("stats: unknown period %q", s)
	}
}

// Cutoff returns the earliest session date included in p, and false for
// [All].
func Cutoff(p Period, now time.Time) (time.Time, bool) {
	switch p {
	case Week:
		return now.AddDate(0, 0, -7), true
	case Month:
		return now.AddDate(0, -1, 0), true
	default:
		return time.Time{}, false
	}
}

// Summary aggregates the sessions of one period. Rates and averages are
// rounded to whole numbers.
type Summary struct {
	Period             Period `json:"period"`
	TotalSessions      int    `json:"total_sessions"`
	SuccessfulSessions int    `json:"successful_sessions"`

	// SuccessRate is a percentage in [0, 100].
	SuccessRate  int `json:"success_rate"`
	TotalBarks   int `json:"total_barks"`
	AverageBarks int `json:"average_barks"`

	// TotalMinutes is the summed session duration in minutes.
	TotalMinutes int `json:"total_minutes"`
}

// Filter returns the sessions of p dated at or after its cutoff, newest first.
func Filter(sessions []store.TrainingSession, p Period, now time.Time) []store.TrainingSession {
	out := NewestFirst(sessions)
	cutoff, ok := Cutoff(p, now)
	if !ok {
		return out
	}
	return slices.DeleteFunc(out, func(s store.TrainingSession) bool {
		return s.Date.Before(cutoff)
	})
}

// NewestFirst returns a copy of sessions sorted by date, newest first.
func NewestFirst(sessions []store.TrainingSession) []store.TrainingSession {
	out := slices.Clone(sessions)
	slices.SortStableFunc(out, func(a, b store.TrainingSession) int {
		return b.Date.Compare(a.Date)
	})
	return out
}

// Summarize aggregates the sessions of p.
func Summarize(sessions []store.TrainingSession, p Period, now time.Time) Summary {
	filtered := Filter(sessions, p, now)
	sum := Summary{Period: p, TotalSessions: len(filtered)}

	var seconds int64
	for _, s := range filtered {
		if s.Success {
			sum.SuccessfulSessions++
		}
		sum.TotalBarks += s.BarksDetected
		seconds += s.DurationSeconds
	}
	if sum.TotalSessions > 0 {
		n := float64(sum.TotalSessions)
		sum.SuccessRate = int(math.Round(float64(sum.SuccessfulSessions) / n * 100))
		sum.AverageBarks = int(math.Round(float64(sum.TotalBarks) / n))
	}
	sum.TotalMinutes = int(math.Round(float64(seconds) / 60))
	return sum
}

// Source is the read side of the event log.
type Source interface {
	Sessions(ctx context.Context) ([]store.TrainingSession, error)
	BarkEvents(ctx context.Context, limit int) ([]store.BarkEvent, error)
}

// Report is a period summary together with its sessions and the retained
// bark events that fall into the period.
type Report struct {
	Summary  Summary                 `json:"summary"`
	Sessions []store.TrainingSession `json:"sessions"`

	// RecentBarks counts retained bark events within the period. It can be
	// lower than Summary.TotalBarks once old events have been trimmed.
	RecentBarks int `json:"recent_barks"`
}

// Build loads sessions and bark events concurrently and assembles the report
// for p.
func Build(ctx context.Context, src Source, p Period, now time.Time) (Report, error) {
	var (
		sessions []store.TrainingSession
		barks    []store.BarkEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = src.Sessions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		barks, err = src.BarkEvents(gctx, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("stats: load: %w", err)
	}

	r := Report{
		Summary:  Summarize(sessions, p, now),
		Sessions: Filter(sessions, p, now),
	}
	cutoff, bounded := Cutoff(p, now)
	for _, ev := range barks {
		if !bounded || !ev.Timestamp.Before(cutoff) {
			r.RecentBarks++
		}
	}
	if r.Sessions == nil {
		r.Sessions = []store.TrainingSession{}
	}
	return r, nil
}
