package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"time"

	"freecal/internal/ics"
	appLog "freecal/internal/log"
	"freecal/internal/pipeline"
	"freecal/internal/scheduler"
	"freecal/internal/web"
)

// runFree computes one day's free time from the files given as arguments
// (or the configured sources when none are given).
func runFree(ctx context.Context, args []string, out io.Writer) error {
	var (
		common     commonFlags
		date       string
		tz         string
		outPath    string
		strictDate bool
	)
	fs := flag.NewFlagSet("free", flag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&date, "date", "", "Day to compute (YYYYMMDD, required)")
	fs.StringVar(&tz, "tz", "", "Time zone label of the day (defaults to config timezone)")
	fs.StringVar(&outPath, "out", "", "Write the free slots as an .ics file to this path")
	fs.BoolVar(&strictDate, "strict-date", false, "Skip events dated on another day")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if date == "" {
		return errors.New("free: -date is required")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if tz == "" {
		tz = cfg.Timezone
	}

	sources := cfg.IcsSources()
	if fs.NArg() > 0 {
		sources = nil
		for _, path := range fs.Args() {
			sources = append(sources, ics.Source{ID: path, Path: path})
		}
	}
	if len(sources) == 0 {
		return errors.New("free: no .ics files given and no sources configured")
	}

	res, err := pipeline.Run(ctx, ics.NewFetcher(cfg.CacheDir), pipeline.Request{
		Date:       date,
		TZID:       tz,
		StrictDate: strictDate || cfg.StrictDate,
		Sources:    sources,
	})
	if err != nil {
		return err
	}

	for _, e := range res.SourceErrors {
		fmt.Fprintf(out, "skipped source: %v\n", e)
	}
	for _, e := range res.EventErrors {
		fmt.Fprintf(out, "rejected event: %v\n", e)
	}
	if res.Empty() {
		fmt.Fprintf(out, "no free time on %s\n", res.Date)
	} else {
		fmt.Fprintf(out, "free time on %s (%s):\n", res.Date, res.TZID)
		for _, slot := range res.Slots {
			fmt.Fprintf(out, "  %s - %s\n", slot.Start.Clock(), slot.End.Clock())
		}
		fmt.Fprintf(out, "total: %s\n", (time.Duration(res.FreeSeconds) * time.Second).String())
	}

	if outPath != "" {
		cal := ics.FreeCalendar(slices.Values(res.Slots), ics.EncodeOptions{ProdID: cfg.ProdID})
		if err := ics.WriteCalendar(outPath, cal); err != nil {
			return fmt.Errorf("free: write %s: %w", outPath, err)
		}
		fmt.Fprintf(out, "wrote %s\n", outPath)
	}
	return nil
}

// runCreate writes an .ics file from a YAML event definition file.
func runCreate(args []string, out io.Writer) error {
	var (
		common  commonFlags
		inPath  string
		outPath string
	)
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&inPath, "in", "events.yaml", "YAML event definition file")
	fs.StringVar(&outPath, "out", "event.ics", "Output .ics file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}

	req, err := ics.LoadEventSpecs(inPath)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if req.TZID == "" {
		req.TZID = cfg.Timezone
	}
	if req.ProdID == "" {
		req.ProdID = cfg.ProdID
	}

	cal, err := ics.Compose(req)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if err := ics.WriteCalendar(outPath, cal); err != nil {
		return fmt.Errorf("create: write %s: %w", outPath, err)
	}
	appLog.Info("calendar written", "path", outPath, "events", len(req.Events))
	fmt.Fprintf(out, "wrote %d event(s) to %s\n", len(req.Events), outPath)
	return nil
}

// runServe starts the cron refresh and the HTTP API and blocks until ctx
// is cancelled.
func runServe(ctx context.Context, args []string) error {
	var (
		common commonFlags
		listen string
	)
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"output", cfg.Output,
		"strict_date", cfg.StrictDate,
		"source_count", len(cfg.Sources),
	)

	fetcher := ics.NewFetcher(cfg.CacheDir)
	sched, err := scheduler.New(cfg.RefreshCron, func(ctx context.Context) error {
		return scheduler.Refresh(ctx, cfg, fetcher, time.Now())
	})
	if err != nil {
		return err
	}
	sched.Start(ctx)

	if err := web.StartServer(ctx, cfg, fetcher); err != nil {
		return err
	}
	appLog.Info("freecal exiting")
	return nil
}
