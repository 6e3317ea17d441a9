package hackerrank

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/scrapers/extract"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_extractor_extract  = "extractor.extract"
	report_extractor_fallback = "extractor.fallback"
	report_extractor_optional = "extractor.optional"
)

var tracer = otel.Tracer("codefolio.internal.scrapers.hackerrank")

type Options struct {
	SiteBase string
}

func DefaultOptions() Options {
	return Options{SiteBase: "https://www.hackerrank.com"}
}

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
		tel:   telemetry.NewScopedAPI("hackerrank", tel),
	}
}

func (e *Extractor) Platform() profile.Platform {
	return profile.HackerRank
}

func (e *Extractor) NeedsBrowser() bool {
	return false
}

type profileResponse struct {
	Model *struct {
		Username       string `json:"username"`
		Name           string `json:"name"`
		Country        string `json:"country"`
		School         string `json:"school"`
		Company        string `json:"company"`
		Level          int    `json:"level"`
		FollowersCount int    `json:"followers_count"`
	} `json:"model"`
}

type badge struct {
	BadgeName       string  `json:"badge_name"`
	BadgeType       string  `json:"badge_type"`
	Stars           int     `json:"stars"`
	Solved          int     `json:"solved"`
	TotalChallenges int     `json:"total_challenges"`
	CurrentPoints   float64 `json:"current_points"`
}

type badgesResponse struct {
	Models []badge `json:"models"`
}

func (e *Extractor) rest(handle, resource string) string {
	return fmt.Sprintf("%s/rest/hackers/%s/%s", e.opts.SiteBase, url.PathEscape(handle), resource)
}

func (e *Extractor) Extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "hackerrank.extract")
	defer span.End()
	span.SetAttributes(attribute.String("handle", target.Handle))

	snapshot, err := e.extractAPI(ctx, src.Fetch, target)
	if err != nil && profile.IsKind(err, profile.KindBlockedOrRateLimited) && src.Pages != nil {
		e.tel.ReportWarning(report_extractor_fallback, err, target.Handle)
		span.AddEvent("browser fallback")
		snapshot, err = e.extractPage(ctx, src.Pages, target)
	}
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

// parseHistory decodes the submission history, a map of dates to counts that
// the api encodes as strings.
func parseHistory(history map[string]any) []profile.ActivityEntry {
	entries := make([]profile.ActivityEntry, 0, len(history))
	for date, raw := range history {
		var count int
		switch v := raw.(type) {
		case float64:
			count = int(v)
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				continue
			}
			count = n
		default:
			continue
		}
		entries = append(entries, profile.ActivityEntry{Date: date, Count: count})
	}
	return extract.Normalize(entries)
}

func (e *Extractor) extractAPI(ctx context.Context, client *fetch.Client, target scrapers.Target) (profile.Snapshot, error) {
	assert.NotNil(client)

	var res profileResponse
	body, err := client.GetJSON(ctx, e.rest(target.Handle, "profile"), nil, target.Fresh, &res)
	if err != nil {
		return profile.Snapshot{}, scrapers.ClassifyFetchError(profile.HackerRank, target.Handle, err)
	}
	if res.Model == nil || res.Model.Username == "" {
		return profile.Snapshot{}, profile.NotFound(profile.HackerRank, target.Handle)
	}
	m := res.Model

	snapshot := profile.Snapshot{
		Platform:    profile.HackerRank,
		Handle:      m.Username,
		DisplayName: m.Name,
		FetchedAt:   e.clock.Now(),
		RawText:     string(body),
	}
	if snapshot.DisplayName == "" {
		snapshot.DisplayName = m.Username
	}

	// the remaining resources are optional, a profile without them is still valid
	var history map[string]any
	_, err = client.GetJSON(ctx, e.rest(target.Handle, "submission_histories"), nil, target.Fresh, &history)
	if err != nil {
		e.tel.ReportWarning(report_extractor_optional, err, target.Handle, "submission_histories")
	} else {
		snapshot.Activity = parseHistory(history)
	}

	var badges badgesResponse
	_, err = client.GetJSON(ctx, e.rest(target.Handle, "badges"), nil, target.Fresh, &badges)
	if err != nil {
		e.tel.ReportWarning(report_extractor_optional, err, target.Handle, "badges")
	} else {
		tracks := map[string]any{}
		for _, b := range badges.Models {
			snapshot.TotalSolved += b.Solved
			if b.BadgeName == "" {
				continue
			}
			snapshot.Badges = append(snapshot.Badges, fmt.Sprintf("%s (%d★)", b.BadgeName, b.Stars))
			tracks[b.BadgeName] = b.Solved
		}
		if len(tracks) > 0 {
			snapshot.SetRaw("solvedByTrack", tracks)
		}
	}

	snapshot.SetRaw("country", m.Country)
	snapshot.SetRaw("school", m.School)
	snapshot.SetRaw("company", m.Company)
	snapshot.SetRaw("level", m.Level)
	snapshot.SetRaw("followers", m.FollowersCount)
	return snapshot, nil
}

var pageOptions = browser.LoadOptions{
	ExpectedDomain: "hackerrank.com",
	SuccessSelectors: []string{
		".profile-user-name",
		".profile-heading",
		".profile-card",
	},
	ErrorTexts: []string{"page not found", "this profile does not exist"},
}

var pageRules = []extract.Rule{
	{
		Field: "name",
		Selectors: []string{
			".profile-user-name",
			".profile-heading__title",
			".profile-heading",
			".profile-name",
			".profile-card h1",
			"h1",
		},
	},
	{
		Field:     "solved",
		Selectors: []string{".solved-challenges", ".challenges-solved"},
		Patterns:  []*regexp.Regexp{extract.Text(`(\d+)\s+challenges?\s+solved`)},
		Numeric:   true,
		Max:       100000,
	},
}

func (e *Extractor) extractPage(ctx context.Context, pages scrapers.PageLoader, target scrapers.Target) (profile.Snapshot, error) {
	url := scrapers.WithCacheBust(e.opts.SiteBase+"/profile/"+target.Handle, target.CacheBust)
	page, err := pages.LoadPage(ctx, url, pageOptions)
	if err != nil {
		return profile.Snapshot{}, scrapers.ClassifyPageError(profile.HackerRank, target.Handle, err)
	}
	if page.ErrorMarker {
		return profile.Snapshot{}, profile.NotFound(profile.HackerRank, target.Handle)
	}

	text := scrapers.PageText(page)
	values, err := extract.Evaluate(page.Doc, text, pageRules)
	var missing *extract.MissingFieldsError
	if errors.As(err, &missing) {
		return profile.Snapshot{}, profile.UnexpectedMarkup(profile.HackerRank, target.Handle, err)
	}

	displayName := values.String("name")
	if displayName == "" {
		displayName = target.Handle
	}
	snapshot := profile.Snapshot{
		Platform:    profile.HackerRank,
		Handle:      target.Handle,
		DisplayName: displayName,
		TotalSolved: values.Int("solved"),
		FetchedAt:   e.clock.Now(),
		RawText:     text,
	}
	snapshot.SetRaw("source", "page")
	return snapshot, nil
}
