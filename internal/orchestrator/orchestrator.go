// Package orchestrator runs extractions for users: it owns retries, browser
// session lifetimes, verification and the persistence of results.
package orchestrator

import (
	"codefolio-backend/internal/aggregate"
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/scrapers/registry"
	"codefolio-backend/internal/store"
	"codefolio-backend/internal/verification"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("codefolio.internal.orchestrator")

const (
	report_service_scrape  = "service.scrape"
	report_service_persist = "service.persist"
)

var (
	ErrNotVerified    = errors.New("platform is not verified for this user")
	ErrHandleMismatch = errors.New("handle differs from the verified profile")
)

type Options struct {
	Retry RetryPolicy
	// BreakerThreshold is the number of consecutive failed page loads after
	// which a job's browser session is reset and abandoned.
	BreakerThreshold int
	Verification     verification.Options
	Refresh          RefreshOptions
}

func DefaultOptions() Options {
	return Options{
		Retry:            DefaultRetryPolicy(),
		BreakerThreshold: 3,
		Verification:     verification.DefaultOptions(),
		Refresh:          DefaultRefreshOptions(),
	}
}

// ScrapeResult is a stored snapshot and the totals recomputed with it.
type ScrapeResult struct {
	Snapshot profile.Snapshot   `json:"snapshot"`
	Totals   profile.TotalStats `json:"totals"`
}

type Service struct {
	store    store.Store
	registry *registry.Registry
	fetch    *fetch.Client
	// pool is nil when no browser is configured
	pool     *browser.Pool
	verifier *verification.Verifier
	opts     Options
	clock    chrono.API
	tel      telemetry.API
}

func NewService(
	st store.Store,
	reg *registry.Registry,
	client *fetch.Client,
	pool *browser.Pool,
	opts Options,
	clock chrono.API,
	tel telemetry.API,
) *Service {
	assert.NotNil(st)
	assert.NotNil(reg)
	assert.NotNil(client)
	assert.NotNil(clock)
	assert.NotNil(tel)

	opts.Retry = opts.Retry.withDefaults()
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = DefaultOptions().BreakerThreshold
	}
	opts.Refresh = opts.Refresh.withDefaults()

	s := &Service{
		store:    st,
		registry: reg,
		fetch:    client,
		pool:     pool,
		opts:     opts,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("orchestrator", tel),
	}
	s.verifier = verification.New(st, s, opts.Verification, clock, tel)
	return s
}

func (s *Service) recompute() store.Recompute {
	return aggregate.WithClock(s.clock)
}

// Scrape extracts one profile under the retry policy. Each call gets its own
// browser session which is released before returning.
func (s *Service) Scrape(ctx context.Context, platform profile.Platform, target scrapers.Target) (profile.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.scrape")
	defer span.End()
	span.SetAttributes(
		attribute.String("platform", string(platform)),
		attribute.String("handle", target.Handle),
	)

	extractor, err := s.registry.Get(platform)
	if err != nil {
		span.SetStatus(codes.Error, "unsupported platform")
		return profile.Snapshot{}, err
	}

	src := scrapers.Source{Fetch: s.fetch}
	if s.pool != nil {
		session := newJobSession(s.pool, s.opts.BreakerThreshold, s.tel)
		defer session.Release()
		src.Pages = session
	} else if extractor.NeedsBrowser() {
		err := profile.Blocked(platform, target.Handle, scrapers.ErrNoBrowser)
		span.SetStatus(codes.Error, "no browser")
		return profile.Snapshot{}, err
	}

	snapshot, err := DoValue(ctx, s.opts.Retry, s.clock, func(ctx context.Context, attempt int) (profile.Snapshot, error) {
		span.SetAttributes(attribute.Int("attempt", attempt))
		snapshot, err := extractor.Extract(ctx, src, target)
		if err != nil {
			s.tel.ReportDebug(report_service_scrape, platform, target.Handle, attempt, err)
		}
		return snapshot, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		if !profile.IsKind(err, profile.KindProfileNotFound) && !errors.Is(err, context.Canceled) {
			s.tel.ReportWarning(report_service_scrape, platform, target.Handle, err)
		}
		return profile.Snapshot{}, err
	}
	return snapshot, nil
}

func (s *Service) InitVerification(ctx context.Context, userID string, platform profile.Platform, profileURL string) (string, error) {
	return s.verifier.Init(ctx, userID, platform, profileURL)
}

func (s *Service) ConfirmVerification(ctx context.Context, userID string, platform profile.Platform) (verification.Result, error) {
	return s.verifier.Confirm(ctx, userID, platform)
}

func (s *Service) VerificationStatus(ctx context.Context, userID string, platform profile.Platform) (*profile.VerificationRecord, profile.VerificationStatus, error) {
	return s.verifier.Status(ctx, userID, platform)
}

// ScrapeProfile re-scrapes a verified platform and stores the result. An
// empty handleOrURL uses the verified handle, any other value must name the
// same profile.
func (s *Service) ScrapeProfile(ctx context.Context, userID string, platform profile.Platform, handleOrURL string) (ScrapeResult, error) {
	record, err := s.store.GetVerification(ctx, userID, platform)
	if errors.Is(err, store.ErrNotFound) {
		return ScrapeResult{}, fmt.Errorf("%s: %w", platform.Title(), ErrNotVerified)
	}
	if err != nil {
		return ScrapeResult{}, profile.Persistence(err)
	}
	if !record.Verified {
		return ScrapeResult{}, fmt.Errorf("%s: %w", platform.Title(), ErrNotVerified)
	}

	handle := record.Handle
	if strings.TrimSpace(handleOrURL) != "" {
		handle, err = scrapers.ResolveHandle(platform, handleOrURL)
		if err != nil {
			return ScrapeResult{}, err
		}
		if !strings.EqualFold(handle, record.Handle) {
			return ScrapeResult{}, fmt.Errorf("%w: %q is not %q", ErrHandleMismatch, handle, record.Handle)
		}
	}

	// the stored handle keeps the casing the platform reported at verification
	return s.scrapeAndStore(ctx, userID, platform, record.Handle)
}

func (s *Service) scrapeAndStore(ctx context.Context, userID string, platform profile.Platform, handle string) (ScrapeResult, error) {
	snapshot, err := s.Scrape(ctx, platform, scrapers.Target{
		Handle: handle,
		URL:    scrapers.ProfileURL(platform, handle),
		Fresh:  true,
	})
	if err != nil {
		return ScrapeResult{}, err
	}
	// a canceled job must not leave a partial write behind
	if ctx.Err() != nil {
		return ScrapeResult{}, ctx.Err()
	}

	totals, err := s.store.ApplyScrape(ctx, userID, snapshot, nil, s.recompute())
	if errors.Is(err, store.ErrNotVerified) {
		// removed while the extraction was running
		return ScrapeResult{}, fmt.Errorf("%s: %w", platform.Title(), ErrNotVerified)
	}
	if err != nil {
		s.tel.ReportBroken(report_service_persist, err, userID, platform)
		return ScrapeResult{}, profile.Persistence(err)
	}
	return ScrapeResult{Snapshot: snapshot, Totals: totals}, nil
}

// RemovePlatform forgets the snapshot and verification of a platform and
// returns the recomputed totals.
func (s *Service) RemovePlatform(ctx context.Context, userID string, platform profile.Platform) (profile.TotalStats, error) {
	totals, err := s.store.ApplyRemoval(ctx, userID, platform, s.recompute())
	if err != nil {
		s.tel.ReportBroken(report_service_persist, err, userID, platform)
		return profile.TotalStats{}, profile.Persistence(err)
	}
	return totals, nil
}

// Totals returns the stored totals of a user, users without any snapshots get
// empty totals.
func (s *Service) Totals(ctx context.Context, userID string) (profile.TotalStats, error) {
	totals, err := s.store.GetTotalStats(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return aggregate.Recompute(userID, nil, chrono.Today(s.clock)), nil
	}
	if err != nil {
		return profile.TotalStats{}, profile.Persistence(err)
	}
	return totals, nil
}

// Snapshots returns every stored snapshot of a user.
func (s *Service) Snapshots(ctx context.Context, userID string) ([]profile.Snapshot, error) {
	snapshots, err := s.store.ListSnapshots(ctx, userID)
	if err != nil {
		return nil, profile.Persistence(err)
	}
	return snapshots, nil
}
