// Package pipeline builds a business-hours schedule from the configured
// ICS subscriptions: fetch, parse, expand, reschedule.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"workcal/internal/config"
	"workcal/internal/ics"
	appLog "workcal/internal/log"
	"workcal/internal/metrics"
	"workcal/internal/model"
	"workcal/internal/schedule"
)

// Window is the time range a run covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFrom returns [day of now - backfill, day of now + days) in loc.
func WindowFrom(now time.Time, loc *time.Location, days, backfill int) Window {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{
		Start: midnight.AddDate(0, 0, -backfill),
		End:   midnight.AddDate(0, 0, days),
	}
}

// Result is a rescheduled feed snapshot.
type Result struct {
	schedule.Result
	Window        Window
	Location      *time.Location
	TruncatedUIDs []string
	SkippedAllDay int
	// FetchErr joins the errors of sources that produced nothing.
	FetchErr error
	BuiltAt  time.Time
}

// Runner runs the pipeline for one configuration.
type Runner struct {
	cfg      *config.Config
	fetcher  *ics.Fetcher
	recorder *metrics.Recorder
	now      func() time.Time
	verify   func([]model.Event) error
}

// NewRunner wires a Runner. recorder may be nil.
func NewRunner(cfg *config.Config, fetcher *ics.Fetcher, recorder *metrics.Recorder) *Runner {
	return &Runner{
		cfg:      cfg,
		fetcher:  fetcher,
		recorder: recorder,
		now:      time.Now,
		verify:   schedule.Verify,
	}
}

// Sources converts the configured subscriptions.
func Sources(cfg *config.Config) []ics.Source {
	sources := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
	}
	return sources
}

// Run builds a schedule for win. Source failures are tolerated and reported
// in Result.FetchErr; expansion, scheduling and verification errors fail
// the run.
func (r *Runner) Run(ctx context.Context, trigger string, win Window) (Result, error) {
	loc := r.cfg.Location()
	out := Result{Window: win, Location: loc, BuiltAt: r.now()}

	fetched, fetchErr := r.fetcher.FetchAll(ctx, Sources(r.cfg))
	out.FetchErr = fetchErr

	var parsed []ics.ParsedEvent
	for _, res := range fetched {
		events, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("pipeline: parse failed for source", err, "id", res.Source.ID)
			continue
		}
		parsed = append(parsed, events...)
	}

	expanded, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		Location:   loc,
		RangeStart: win.Start,
		RangeEnd:   win.End,
	})
	if err != nil {
		return out, fmt.Errorf("expand: %w", err)
	}
	out.TruncatedUIDs = expanded.TruncatedUIDs
	out.SkippedAllDay = expanded.SkippedAllDay

	sc, err := r.cfg.ScheduleConfig()
	if err != nil {
		return out, err
	}

	began := time.Now()
	res, err := schedule.Reschedule(expanded.Events, sc)
	r.recorder.Observe(trigger, res, err, time.Since(began))
	if err != nil {
		return out, fmt.Errorf("reschedule: %w", err)
	}

	// A schedule that breaks its own invariants is never served.
	if err := r.verify(res.Events); err != nil {
		r.recorder.ObserveInvalid(trigger)
		appLog.Error("pipeline: schedule failed verification", err, "trigger", trigger)
		return out, fmt.Errorf("verify: %w", err)
	}
	out.Result = res
	r.recorder.SetScheduleSize(len(res.Events))

	appLog.Info("pipeline run completed",
		"trigger", trigger,
		"sources", len(fetched),
		"events", len(res.Events),
		"kept", res.Kept,
		"relocated", len(res.Relocations),
		"skipped_all_day", out.SkippedAllDay,
		"range_start", win.Start.Format(time.RFC3339),
		"range_end", win.End.Format(time.RFC3339),
	)
	return out, nil
}
