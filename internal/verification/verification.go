// Package verification proves that a user controls a public competitive
// programming profile by asking them to display a one-time code on it.
package verification

import (
	"codefolio-backend/internal/aggregate"
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/store"
	"codefolio-backend/lib/textutil"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("codefolio.internal.verification")

const (
	report_verifier_init    = "verifier.init"
	report_verifier_confirm = "verifier.confirm"
	report_verifier_lag     = "verifier.lag-retry"
)

// ErrNotStarted is returned by Confirm when no code was issued for the pair.
var ErrNotStarted = errors.New("no verification in progress, request a code first")

// Scraper extracts a profile with whatever retry and browser session policy
// the caller owns.
//
// note: fault injection point
type Scraper interface {
	Scrape(ctx context.Context, platform profile.Platform, target scrapers.Target) (profile.Snapshot, error)
}

type Options struct {
	MaxAttempts int
	CodeLength  int
	// LagRetries is how many times extraction and matching are repeated within
	// one Confirm call on platforms that serve stale profiles.
	LagRetries int
	LagDelay   time.Duration
	Lagging    []profile.Platform
	// NewCode overrides code generation.
	NewCode func(length int) (string, error)
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: profile.DefaultMaxAttempts,
		CodeLength:  6,
		LagRetries:  3,
		LagDelay:    5 * time.Second,
		Lagging:     []profile.Platform{profile.GFG},
	}
}

// Result is the outcome of a Confirm call. A mismatch is a normal result with
// Verified false and a Message telling the user what to fix.
type Result struct {
	Verified bool                       `json:"verified"`
	Status   profile.VerificationStatus `json:"status"`
	Message  string                     `json:"message"`
	Attempts int                        `json:"attempts"`
	Snapshot *profile.Snapshot          `json:"snapshot,omitempty"`
	Totals   *profile.TotalStats        `json:"totals,omitempty"`
}

type Verifier struct {
	store   store.Store
	scraper Scraper
	opts    Options
	clock   chrono.API
	tel     telemetry.API
}

func New(st store.Store, scraper Scraper, opts Options, clock chrono.API, tel telemetry.API) *Verifier {
	assert.NotNil(st)
	assert.NotNil(scraper)
	assert.NotNil(clock)
	assert.NotNil(tel)

	defaults := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.CodeLength <= 0 {
		opts.CodeLength = defaults.CodeLength
	}
	if opts.LagRetries <= 0 {
		opts.LagRetries = defaults.LagRetries
	}
	if opts.LagDelay <= 0 {
		opts.LagDelay = defaults.LagDelay
	}
	if opts.Lagging == nil {
		opts.Lagging = defaults.Lagging
	}
	if opts.NewCode == nil {
		opts.NewCode = generateCode
	}

	return &Verifier{
		store:   st,
		scraper: scraper,
		opts:    opts,
		clock:   clock,
		tel:     telemetry.NewScopedAPI("verification", tel),
	}
}

// generateCode returns an uppercase code of ascii letters and digits, the
// only characters every platform accepts in a display name.
func generateCode(length int) (string, error) {
	var out strings.Builder
	for out.Len() < length {
		chunk, err := random.String(length)
		if err != nil {
			return "", err
		}
		for _, r := range strings.ToUpper(chunk) {
			if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				out.WriteRune(r)
			}
		}
	}
	return out.String()[:length], nil
}

// Init issues a fresh code for the profile, replacing any earlier record of
// the same user and platform.
func (v *Verifier) Init(ctx context.Context, userID string, platform profile.Platform, profileURL string) (string, error) {
	ctx, span := tracer.Start(ctx, "verification.init")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(platform)))

	handle, err := scrapers.ParseProfileURL(platform, profileURL)
	if err != nil {
		span.SetStatus(codes.Error, "invalid profile url")
		return "", err
	}

	code, err := v.opts.NewCode(v.opts.CodeLength)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to generate verification code")
		v.tel.ReportBroken(report_verifier_init, err)
		return "", err
	}
	code = textutil.NormalizeToken(code)

	err = v.store.UpsertVerification(ctx, profile.VerificationRecord{
		UserID:     userID,
		Platform:   platform,
		ProfileURL: strings.TrimSpace(profileURL),
		Handle:     handle,
		Code:       code,
		CreatedAt:  v.clock.Now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist verification")
		v.tel.ReportBroken(report_verifier_init, err, userID, platform)
		return "", profile.Persistence(err)
	}
	return code, nil
}

// Status returns the current record of the pair, nil if none exists.
func (v *Verifier) Status(ctx context.Context, userID string, platform profile.Platform) (*profile.VerificationRecord, profile.VerificationStatus, error) {
	record, err := v.store.GetVerification(ctx, userID, platform)
	if errors.Is(err, store.ErrNotFound) {
		return nil, profile.StatusNone, nil
	}
	if err != nil {
		return nil, "", profile.Persistence(err)
	}
	return &record, record.Status(v.opts.MaxAttempts), nil
}

// Matches reports whether a snapshot carries the code, either as the
// normalized display name or anywhere in the raw profile text.
func Matches(snapshot profile.Snapshot, code string) bool {
	code = textutil.NormalizeToken(code)
	if code == "" {
		return false
	}
	if textutil.NormalizeToken(snapshot.DisplayName) == code {
		return true
	}
	return textutil.ContainsFold(snapshot.RawText, code)
}

func (v *Verifier) lagging(platform profile.Platform) bool {
	return slices.Contains(v.opts.Lagging, platform)
}

// Confirm checks the profile for the issued code. Every call consumes one
// attempt, once MaxAttempts are spent the pair is failed and no extraction
// happens until Init is called again.
func (v *Verifier) Confirm(ctx context.Context, userID string, platform profile.Platform) (Result, error) {
	ctx, span := tracer.Start(ctx, "verification.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(platform)))

	record, err := v.store.GetVerification(ctx, userID, platform)
	if errors.Is(err, store.ErrNotFound) {
		span.SetStatus(codes.Error, "not started")
		return Result{Status: profile.StatusNone}, ErrNotStarted
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read verification")
		v.tel.ReportBroken(report_verifier_confirm, err, userID, platform)
		return Result{}, profile.Persistence(err)
	}

	if record.Verified {
		return Result{
			Verified: true,
			Status:   profile.StatusVerified,
			Message:  fmt.Sprintf("%s profile %q is already verified", platform.Title(), record.Handle),
			Attempts: record.Attempts,
		}, nil
	}
	if record.Attempts >= v.opts.MaxAttempts {
		span.SetStatus(codes.Error, "max attempts exceeded")
		return Result{Status: profile.StatusFailed, Attempts: record.Attempts},
			profile.NewError(profile.KindMaxAttemptsExceeded, platform, record.Handle, nil)
	}

	record.Attempts++
	err = v.store.UpdateVerificationIfCode(ctx, record)
	if errors.Is(err, store.ErrCodeChanged) {
		return v.superseded(ctx, userID, platform)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist attempt")
		v.tel.ReportBroken(report_verifier_confirm, err, userID, platform)
		return Result{}, profile.Persistence(err)
	}
	span.SetAttributes(attribute.Int("attempt", record.Attempts))

	snapshot, matched, err := v.extractAndMatch(ctx, record)
	if err != nil {
		if profile.IsKind(err, profile.KindProfileNotFound) {
			delErr := v.store.DeleteVerification(ctx, userID, platform)
			if delErr != nil {
				v.tel.ReportBroken(report_verifier_confirm, delErr, userID, platform)
				return Result{}, profile.Persistence(delErr)
			}
			return Result{Status: profile.StatusNone, Attempts: record.Attempts}, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return Result{Status: record.Status(v.opts.MaxAttempts), Attempts: record.Attempts}, err
	}

	if !matched {
		status := record.Status(v.opts.MaxAttempts)
		return Result{
			Status:   status,
			Message:  mismatchMessage(platform, snapshot, record.Code, v.opts.MaxAttempts-record.Attempts),
			Attempts: record.Attempts,
		}, nil
	}

	now := v.clock.Now()
	record.Verified = true
	record.VerifiedAt = &now
	totals, err := v.store.ApplyScrape(ctx, userID, snapshot, &record, aggregate.WithClock(v.clock))
	if errors.Is(err, store.ErrCodeChanged) {
		span.SetStatus(codes.Error, "code replaced during check")
		return v.superseded(ctx, userID, platform)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist verified profile")
		v.tel.ReportBroken(report_verifier_confirm, err, userID, platform)
		return Result{}, profile.Persistence(err)
	}

	return Result{
		Verified: true,
		Status:   profile.StatusVerified,
		Message:  fmt.Sprintf("%s profile %q verified", platform.Title(), record.Handle),
		Attempts: record.Attempts,
		Snapshot: &snapshot,
		Totals:   &totals,
	}, nil
}

// superseded reports the current state of a pair whose code was reissued or
// removed while Confirm was running.
func (v *Verifier) superseded(ctx context.Context, userID string, platform profile.Platform) (Result, error) {
	current, status, err := v.Status(ctx, userID, platform)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Status:  status,
		Message: "a new verification code was requested while this one was being checked, confirm again with the latest code",
	}
	if current != nil {
		res.Attempts = current.Attempts
	}
	return res, nil
}

// extractAndMatch runs a fresh extraction, on lagging platforms it repeats
// with a cache busting parameter until the code shows up or LagRetries are used.
func (v *Verifier) extractAndMatch(ctx context.Context, record profile.VerificationRecord) (profile.Snapshot, bool, error) {
	tries := 1
	lagging := v.lagging(record.Platform)
	if lagging {
		tries = v.opts.LagRetries
	}

	var snapshot profile.Snapshot
	for i := range tries {
		if i > 0 {
			v.tel.ReportDebug(report_verifier_lag, record.Platform, record.Handle, i)
			err := v.clock.Sleep(ctx, v.opts.LagDelay)
			if err != nil {
				return snapshot, false, err
			}
		}

		target := scrapers.Target{
			Handle: record.Handle,
			URL:    record.ProfileURL,
			Fresh:  true,
		}
		if lagging {
			target.CacheBust = strconv.FormatInt(v.clock.Now().UnixMilli(), 10)
		}

		var err error
		snapshot, err = v.scraper.Scrape(ctx, record.Platform, target)
		if err != nil {
			return snapshot, false, err
		}
		if Matches(snapshot, record.Code) {
			return snapshot, true, nil
		}
	}
	return snapshot, false, nil
}

func mismatchMessage(platform profile.Platform, snapshot profile.Snapshot, code string, remaining int) string {
	var msg string
	found := textutil.NormalizeToken(snapshot.DisplayName)
	switch {
	case found == "":
		msg = fmt.Sprintf(
			"no display name was found on your %s profile, set it to %s and try again",
			platform.Title(), code,
		)
	case strings.Contains(textutil.NormalizeName(snapshot.DisplayName), strings.ToLower(code)):
		msg = fmt.Sprintf(
			"your %s display name %q contains %s but it has to be the first word",
			platform.Title(), snapshot.DisplayName, code,
		)
	case matchr.JaroWinkler(found, code, false) >= 0.8:
		msg = fmt.Sprintf(
			"your %s display name %q is close to %s, check it for typos",
			platform.Title(), snapshot.DisplayName, code,
		)
	default:
		msg = fmt.Sprintf(
			"your %s display name is %q, change it to %s and try again",
			platform.Title(), snapshot.DisplayName, code,
		)
	}

	if remaining <= 0 {
		return msg + ", no attempts are left so request a new code"
	}
	if remaining == 1 {
		return msg + ", 1 attempt left"
	}
	return fmt.Sprintf("%s, %d attempts left", msg, remaining)
}
