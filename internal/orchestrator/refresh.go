package orchestrator

import (
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/profile"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_refresh_job    = "refresh.job"
	report_refresh_failed = "refresh.failed"
	report_refresh_run    = "refresh.run"
)

type RefreshOptions struct {
	// Concurrency bounds the number of jobs in flight.
	Concurrency int
	// Gap is the wait between starting two jobs.
	Gap time.Duration
	// Cron is the schedule of the daily refresh.
	Cron string
}

func DefaultRefreshOptions() RefreshOptions {
	return RefreshOptions{
		Concurrency: 2,
		Gap:         3 * time.Second,
		Cron:        "0 2 * * *",
	}
}

func (o RefreshOptions) withDefaults() RefreshOptions {
	d := DefaultRefreshOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.Gap < 0 {
		o.Gap = 0
	}
	if o.Cron == "" {
		o.Cron = d.Cron
	}
	return o
}

// JobFailure is a single refresh job that did not complete.
type JobFailure struct {
	JobID    string
	UserID   string
	Platform profile.Platform
	Err      error
}

type RefreshReport struct {
	Jobs      int
	Succeeded int
	Failures  []JobFailure
}

// RefreshAll re-scrapes every verified profile. Failing jobs are collected in
// the report and never stop the others.
func (s *Service) RefreshAll(ctx context.Context) (RefreshReport, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.refresh")
	defer span.End()

	records, err := s.store.ListVerified(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list verified profiles")
		s.tel.ReportBroken(report_service_persist, err)
		return RefreshReport{}, profile.Persistence(err)
	}
	span.SetAttributes(attribute.Int("jobs", len(records)))

	var mu sync.Mutex
	report := RefreshReport{Jobs: len(records)}

	p := pool.New().WithMaxGoroutines(s.opts.Refresh.Concurrency)
	for i, record := range records {
		if i > 0 && s.opts.Refresh.Gap > 0 {
			if s.clock.Sleep(ctx, s.opts.Refresh.Gap) != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		p.Go(func() {
			jobID := uuid.NewString()
			s.tel.ReportDebug(report_refresh_job, jobID, record.UserID, record.Platform, record.Handle)

			_, err := s.scrapeAndStore(ctx, record.UserID, record.Platform, record.Handle)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.tel.ReportWarning(report_refresh_job, jobID, record.UserID, record.Platform, err)
				report.Failures = append(report.Failures, JobFailure{
					JobID:    jobID,
					UserID:   record.UserID,
					Platform: record.Platform,
					Err:      err,
				})
				return
			}
			report.Succeeded++
		})
	}
	p.Wait()

	s.tel.ReportCount(report_refresh_failed, int64(len(report.Failures)))
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// Schedule runs RefreshAll on the configured cron schedule until ctx is done.
func (s *Service) Schedule(ctx context.Context, cron chrono.CronAPI) error {
	return cron.Cron(s.opts.Refresh.Cron, func() {
		if ctx.Err() != nil {
			return
		}
		report, err := s.RefreshAll(ctx)
		if err != nil {
			s.tel.ReportBroken(report_refresh_run, err)
			return
		}
		s.tel.ReportDebug(report_refresh_run, report.Jobs, report.Succeeded, len(report.Failures))
	})
}
