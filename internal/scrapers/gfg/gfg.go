package gfg

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/scrapers/extract"
	"context"
	"errors"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const report_extractor_extract = "extractor.extract"

var tracer = otel.Tracer("codefolio.internal.scrapers.gfg")

type Options struct {
	SiteBase string
}

func DefaultOptions() Options {
	return Options{SiteBase: "https://www.geeksforgeeks.org"}
}

// Extractor reads the rendered geeksforgeeks profile page, the platform has no
// public api with the same data.
type Extractor struct {
	opts  Options
	clock chrono.API
	tel   telemetry.API
}

func New(opts Options, clock chrono.API, tel telemetry.API) *Extractor {
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.SiteBase == "" {
		opts.SiteBase = DefaultOptions().SiteBase
	}
	opts.SiteBase = strings.TrimSuffix(opts.SiteBase, "/")
	return &Extractor{
		opts:  opts,
		clock: clock,
		tel:   telemetry.NewScopedAPI("gfg", tel),
	}
}

func (e *Extractor) Platform() profile.Platform {
	return profile.GFG
}

func (e *Extractor) NeedsBrowser() bool {
	return true
}

var pageOptions = browser.LoadOptions{
	ExpectedDomain: "geeksforgeeks.org",
	SuccessSelectors: []string{
		"div.profile_name",
		"div.header_user_profile_name",
		".geek-name",
		"div[class*='scoreCard']",
	},
	ErrorSelectors: []string{"div.profile-not-found"},
	ErrorTexts: []string{
		"user does not exist",
		"no user found",
		"this user is not available",
	},
}

func bucket(name string) *regexp.Regexp {
	return extract.Text(name + `\s*\(\s*(\d+)\s*\)`)
}

var rules = []extract.Rule{
	{
		Field:     "name",
		Selectors: []string{"div.profile_name", "div.header_user_profile_name", ".geek-name"},
	},
	{
		Field:    "solved",
		Patterns: []*regexp.Regexp{extract.Text(`problems?\s+solved\s*:?\s*([\d,]+)`)},
		Numeric:  true,
		Max:      100000,
		Required: true,
	},
	{
		Field:    "codingScore",
		Patterns: []*regexp.Regexp{extract.Text(`coding\s+score\s*:?\s*([\d,]+)`)},
		Numeric:  true,
		Max:      10000000,
	},
	{
		Field:    "contestRating",
		Patterns: []*regexp.Regexp{extract.Text(`contest\s+rating\s*:?\s*(\d+)`)},
		Numeric:  true,
		Max:      5000,
	},
	{
		Field:    "streak",
		Patterns: []*regexp.Regexp{extract.Text(`streak\s*(\d+)\s*/\s*\d+\s*days?`)},
		Numeric:  true,
		Max:      100000,
	},
	{
		Field:    "longestStreak",
		Patterns: []*regexp.Regexp{extract.Text(`streak\s*\d+\s*/\s*(\d+)\s*days?`)},
		Numeric:  true,
		Max:      100000,
	},
	{
		Field:    "yearlySubmissions",
		Patterns: []*regexp.Regexp{extract.Text(`(\d[\d,]*)\s+submissions?\s+in\s+current\s+year`)},
		Numeric:  true,
	},
	{Field: "school", Patterns: []*regexp.Regexp{bucket("school")}, Numeric: true},
	{Field: "basic", Patterns: []*regexp.Regexp{bucket("basic")}, Numeric: true},
	{Field: "easy", Patterns: []*regexp.Regexp{bucket("easy")}, Numeric: true},
	{Field: "medium", Patterns: []*regexp.Regexp{bucket("medium")}, Numeric: true},
	{Field: "hard", Patterns: []*regexp.Regexp{bucket("hard")}, Numeric: true},
	{Field: "institution", Selectors: []string{`a[href*="/colleges/"]`}},
}

func (e *Extractor) Extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "gfg.extract")
	defer span.End()
	span.SetAttributes(attribute.String("handle", target.Handle))

	snapshot, err := e.extract(ctx, src, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		if profile.IsKind(err, profile.KindUnexpectedMarkup) {
			e.tel.ReportBroken(report_extractor_extract, err, target.Handle)
		}
		return profile.Snapshot{}, err
	}
	return snapshot, nil
}

func (e *Extractor) extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	if src.Pages == nil {
		return profile.Snapshot{}, scrapers.ClassifyPageError(profile.GFG, target.Handle, scrapers.ErrNoBrowser)
	}

	url := scrapers.WithCacheBust(e.opts.SiteBase+"/user/"+target.Handle+"/", target.CacheBust)
	page, err := src.Pages.LoadPage(ctx, url, pageOptions)
	if err != nil {
		return profile.Snapshot{}, scrapers.ClassifyPageError(profile.GFG, target.Handle, err)
	}
	if page.ErrorMarker {
		return profile.Snapshot{}, profile.NotFound(profile.GFG, target.Handle)
	}

	text := scrapers.PageText(page)
	values, err := extract.Evaluate(page.Doc, text, rules)
	var missing *extract.MissingFieldsError
	if errors.As(err, &missing) {
		return profile.Snapshot{}, profile.UnexpectedMarkup(profile.GFG, target.Handle, err)
	}

	displayName := values.String("name")
	if displayName == "" {
		displayName = target.Handle
	}

	snapshot := profile.Snapshot{
		Platform:     profile.GFG,
		Handle:       target.Handle,
		DisplayName:  displayName,
		Rating:       values.Int("contestRating"),
		MaxRating:    values.Int("contestRating"),
		TotalSolved:  values.Int("solved"),
		EasySolved:   values.Int("easy"),
		MediumSolved: values.Int("medium"),
		HardSolved:   values.Int("hard"),
		FetchedAt:    e.clock.Now(),
		RawText:      text,
	}

	streak := values.Int("streak")
	yearly := values.Int("yearlySubmissions")
	if yearly > 0 && streak > 0 {
		snapshot.Activity = extract.Synthesize(profile.GFG, target.Handle, e.clock.Now().In(e.clock.Location()), streak)
		snapshot.SyntheticActivity = true
	}

	snapshot.SetRaw("codingScore", values.Int("codingScore"))
	snapshot.SetRaw("schoolSolved", values.Int("school"))
	snapshot.SetRaw("basicSolved", values.Int("basic"))
	snapshot.SetRaw("streak", streak)
	snapshot.SetRaw("longestStreak", values.Int("longestStreak"))
	snapshot.SetRaw("yearlySubmissions", yearly)
	snapshot.SetRaw("institution", values.String("institution"))
	return snapshot, nil
}
