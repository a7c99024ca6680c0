// Package schedule re-runs the offline analysis on a cron schedule.
package schedule

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"patientbot/internal/config"
)

// Job is one analysis run.
type Job func(ctx context.Context) error

type clock struct {
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

var realClock = clock{now: time.Now, after: time.After}

// StartAnalysisScheduler runs job at every tick of spec until ctx is done.
// The spec is a standard 5-field cron expression, e.g. "0 9 * * 1-5" for
// weekdays at 9am. It reports whether a schedule was started.
func StartAnalysisScheduler(ctx context.Context, spec string, loc *time.Location, job Job) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		log.Println("Scheduled analysis disabled (analysis_schedule not set)")
		return false
	}
	sched, err := config.ParseSchedule(spec)
	if err != nil {
		log.Printf("Invalid analysis_schedule '%s': %v, scheduled analysis disabled", spec, err)
		return false
	}
	if loc == nil {
		loc = time.Local
	}
	log.Printf("Analysis scheduled (cron: %s)", spec)
	go run(ctx, sched, loc, realClock, job)
	return true
}

func run(ctx context.Context, sched cron.Schedule, loc *time.Location, c clock, job Job) {
	for {
		now := c.now().In(loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next analysis at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		select {
		case <-ctx.Done():
			log.Printf("Analysis scheduler stopped")
			return
		case <-c.after(wait):
		}

		if err := job(ctx); err != nil {
			log.Printf("Scheduled analysis error: %v", err)
			continue
		}
		log.Printf("Scheduled analysis complete")
	}
}
