package report

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ReportBuilder produces the spreadsheet for one day.
type ReportBuilder interface {
	Build(ctx context.Context, day time.Time) (Report, error)
}

// ReportSender delivers a built report.
type ReportSender interface {
	Send(ctx context.Context, r Report) error
}

// Scheduler builds and mails the previous day's report on a cron schedule.
type Scheduler struct {
	builder  ReportBuilder
	sender   ReportSender
	schedule cron.Schedule
	now      func() time.Time
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	Builder ReportBuilder
	Sender  ReportSender
	Cron    string // defaults to "0 0 * * *"
	Now     func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.Builder == nil {
		return nil, fmt.Errorf("report: builder is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("report: sender is required")
	}
	expr := opts.Cron
	if expr == "" {
		expr = "0 0 * * *"
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("report: parse cron %q: %w", expr, err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{builder: opts.Builder, sender: opts.Sender, schedule: sched, now: now}, nil
}

// Next returns the next fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run fires at every scheduled time until ctx is cancelled. A failed run is
// logged and the schedule continues.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		next := s.Next(now)
		log.Info("report: next usage report", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.RunOnce(ctx, s.now().AddDate(0, 0, -1)); err != nil {
			log.Error("report: scheduled run failed", "err", err)
		}
	}
}

// RunOnce builds and sends the report for day.
func (s *Scheduler) RunOnce(ctx context.Context, day time.Time) error {
	r, err := s.builder.Build(ctx, day)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, r)
}
