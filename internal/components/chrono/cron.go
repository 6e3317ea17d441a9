package chrono

import (
	"codefolio-backend/internal/components/telemetry"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronAPI is the interface that anything depending on things to happen on a cron job should use.
//
// note: fault injection point
type CronAPI interface {
	Cron(spec string, callback func()) error
}

// ValidateCron parses a standard five field spec without scheduling it.
func ValidateCron(spec string) error {
	_, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// StandardCron is the implementation of CronAPI backed by `github.com/robfig/cron/v3`.
// A run that is still going when its next tick fires is skipped and a panicking
// job is reported instead of taking down the scheduler.
type StandardCron struct {
	cron *cron.Cron
}

// NewStandardCron starts a scheduler that evaluates specs in the given location.
func NewStandardCron(tel telemetry.API, location *time.Location) StandardCron {
	logger := cronLogger{tel: telemetry.NewScopedAPI("cron", tel)}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(location),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	cronner.Start()

	return StandardCron{cron: cronner}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	err := ValidateCron(spec)
	if err != nil {
		return err
	}
	_, err = s.cron.AddFunc(spec, callback)
	return err
}

// Next returns when the earliest scheduled job runs next, zero if nothing is scheduled.
func (s StandardCron) Next() time.Time {
	var next time.Time
	for _, entry := range s.cron.Entries() {
		if next.IsZero() || entry.Next.Before(next) {
			next = entry.Next
		}
	}
	return next
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s StandardCron) Stop() {
	<-s.cron.Stop().Done()
}

type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) params(keysAndValues []any) []any {
	params := make([]any, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		params = append(params, telemetry.KV{
			Key:   fmt.Sprint(keysAndValues[i]),
			Value: keysAndValues[i+1],
		})
	}
	return params
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	// SkipIfStillRunning logs skipped ticks at info level
	if msg == "skip" {
		l.tel.ReportWarning("scheduler.skip", l.params(keysAndValues)...)
		return
	}
	l.tel.ReportDebug(msg, l.params(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(
		"scheduler",
		append([]any{fmt.Errorf("%s: %w", msg, err)}, l.params(keysAndValues)...)...,
	)
}
