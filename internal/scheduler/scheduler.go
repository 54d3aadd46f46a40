// Package scheduler rewrites the free-time calendar on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"freecal/internal/config"
	"freecal/internal/ics"
	appLog "freecal/internal/log"
	"freecal/internal/pipeline"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a five-field cron expression.
type Scheduler struct {
	expression string
	schedule   cron.Schedule
	cron       *cron.Cron
	job        Job
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New parses expression and binds job to it. Nothing runs until Start.
func New(expression string, job Job) (*Scheduler, error) {
	schedule, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return &Scheduler{
		expression: expression,
		schedule:   schedule,
		cron:       cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{})),
		job:        job,
	}, nil
}

// Next returns the first run after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now)
}

// Start runs the job once immediately, then on schedule until ctx is done.
// A run that would overlap one still in progress is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	job := s.jobFor(ctx)
	s.cron.Schedule(s.schedule, job)
	appLog.Info("scheduler started", "cron", s.expression, "next", s.Next(time.Now()).Format(time.RFC3339))
	go job.Run()
	s.cron.Start()

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		appLog.Info("scheduler stopped")
	}()
}

// jobFor binds the job to ctx. Every invocation of the returned job, from
// cron or from Start, shares one guard against overlapping runs.
func (s *Scheduler) jobFor(ctx context.Context) cron.Job {
	run := func() {
		started := time.Now()
		if err := s.job(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err, "cron", s.expression)
			return
		}
		appLog.Info("scheduled refresh done", "cron", s.expression, "took", time.Since(started).String())
	}
	return cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(run))
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Refresh computes today's free time in cfg.Timezone and writes it to
// cfg.Output.
func Refresh(ctx context.Context, cfg *config.Config, loader pipeline.Loader, now time.Time) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
		loc = time.Local
	}

	res, err := pipeline.Run(ctx, loader, pipeline.Request{
		Date:       now.In(loc).Format("20060102"),
		TZID:       cfg.Timezone,
		StrictDate: cfg.StrictDate,
		Sources:    cfg.IcsSources(),
	})
	if err != nil {
		return err
	}

	cal := ics.FreeCalendar(slices.Values(res.Slots), ics.EncodeOptions{ProdID: cfg.ProdID})
	if err := ics.WriteCalendar(cfg.Output, cal); err != nil {
		return fmt.Errorf("write %s: %w", cfg.Output, err)
	}
	if res.Empty() {
		appLog.Info("no free time", "date", res.Date)
	}
	return nil
}
