package codechef

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/scrapers/extract"
	"codefolio-backend/lib/htmlutil"
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_extractor_extract = "extractor.extract"
	report_extractor_ratings = "extractor.ratings"
)

var tracer = otel.Tracer("codefolio.internal.scrapers.codechef")

type Options struct {
	SiteBase string
	// MaxProblemLookups bounds the number of practice api calls made per
	// extraction, solved problems beyond it stay unrated.
	MaxProblemLookups int
	// RatingCacheMB and RatingCacheTTL size the problem rating cache.
	RatingCacheMB  int
	RatingCacheTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		SiteBase:          "https://www.codechef.com",
		MaxProblemLookups: 300,
		RatingCacheMB:     4,
		RatingCacheTTL:    time.Hour * 24 * 7,
	}
}

type Extractor struct {
	opts    Options
	ratings *ratingCache
	clock   chrono.API
	tel     telemetry.API
}

func New(opts Options, clock chrono.API, tel telemetry.API) *Extractor {
	assert.NotNil(clock)
	assert.NotNil(tel)

	defaults := DefaultOptions()
	if opts.SiteBase == "" {
		opts.SiteBase = defaults.SiteBase
	}
	opts.SiteBase = strings.TrimSuffix(opts.SiteBase, "/")
	if opts.MaxProblemLookups <= 0 {
		opts.MaxProblemLookups = defaults.MaxProblemLookups
	}
	if opts.RatingCacheMB <= 0 {
		opts.RatingCacheMB = defaults.RatingCacheMB
	}
	if opts.RatingCacheTTL <= 0 {
		opts.RatingCacheTTL = defaults.RatingCacheTTL
	}
	return &Extractor{
		opts:    opts,
		ratings: newRatingCache(opts.RatingCacheMB, opts.RatingCacheTTL),
		clock:   clock,
		tel:     telemetry.NewScopedAPI("codechef", tel),
	}
}

func (e *Extractor) Platform() profile.Platform {
	return profile.CodeChef
}

func (e *Extractor) NeedsBrowser() bool {
	return true
}

var captchaSelectors = []string{`[class*="captcha"]`, `[id*="captcha"]`, `#challenge-form`}

var pageOptions = browser.LoadOptions{
	ExpectedDomain: "codechef.com",
	SuccessSelectors: []string{
		".user-details-container",
		".rating-number",
		".rating-data-section.problems-solved",
	},
	ErrorSelectors: captchaSelectors,
	ErrorTexts: []string{
		"does not exist",
		"page not found",
		"verify you are human",
	},
}

type pageStatus int

const (
	pageOK pageStatus = iota
	pageNotFound
	pageBlocked
)

// classify tells a missing user apart from an anti-bot interstitial, both
// render as a known-error marker.
func classify(page *browser.Page, text string) pageStatus {
	if !page.ErrorMarker {
		return pageOK
	}
	for _, sel := range captchaSelectors {
		if page.Doc.Find(sel).Length() > 0 {
			return pageBlocked
		}
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "verify you are human") || strings.Contains(lower, "access denied") {
		return pageBlocked
	}
	return pageNotFound
}

var rules = []extract.Rule{
	{
		Field: "name",
		Selectors: []string{
			".user-details-container header h1",
			".user-details-container header h2",
			".user-details-container h1",
			"header h2",
		},
	},
	{
		Field:     "rating",
		Selectors: []string{".rating-number"},
		Patterns:  []*regexp.Regexp{extract.Text(`rating\s*:?\s*(\d+)`)},
		Numeric:   true,
		Max:       4000,
		Required:  true,
	},
	{
		Field:     "maxRating",
		Selectors: []string{".rating-header small"},
		Patterns:  []*regexp.Regexp{extract.Text(`highest\s+rating\s*:?\s*(\d+)`)},
		Numeric:   true,
		Max:       4000,
	},
	{
		Field:     "solved",
		Selectors: []string{".rating-data-section.problems-solved h3:last-of-type"},
		Patterns:  []*regexp.Regexp{extract.Text(`total\s+problems\s+solved\s*:?\s*(\d+)`)},
		Numeric:   true,
		Max:       100000,
	},
	{
		Field:     "contests",
		Selectors: []string{".contest-participated-count"},
		Patterns:  []*regexp.Regexp{extract.Text(`contests?\s+participated\s*:?\s*(\d+)`)},
		Numeric:   true,
		Max:       10000,
	},
	{
		Field:     "stars",
		Selectors: []string{".rating-star"},
		Patterns:  []*regexp.Regexp{regexp.MustCompile(`(\d)\s*★`)},
		Numeric:   true,
		Max:       7,
	},
	{
		Field:     "country",
		Selectors: []string{".user-country-name"},
	},
	{
		Field:     "institution",
		Selectors: []string{`.user-details li:has(label:contains("Institution")) span`},
	},
}

func heatmap(doc *goquery.Document) []profile.ActivityEntry {
	var entries []profile.ActivityEntry
	doc.Find("svg rect[data-date][data-count]").Each(func(_ int, s *goquery.Selection) {
		count, err := strconv.Atoi(strings.TrimSpace(s.AttrOr("data-count", "")))
		if err != nil {
			return
		}
		entries = append(entries, profile.ActivityEntry{
			Date:  strings.TrimSpace(s.AttrOr("data-date", "")),
			Count: count,
		})
	})
	return extract.Normalize(entries)
}

func badges(doc *goquery.Document) []string {
	var out []string
	seen := map[string]bool{}
	doc.Find(".badge .badge__title, .widget-badges .badge-title").Each(func(_ int, s *goquery.Selection) {
		title := htmlutil.SelectionText(s)
		if title == "" || seen[title] {
			return
		}
		seen[title] = true
		out = append(out, title)
	})
	return out
}

var problemCodePattern = regexp.MustCompile(`/problems/([A-Za-z0-9_]+)`)

// solvedCodes lists the distinct problem codes linked from the solved
// problems section.
func solvedCodes(doc *goquery.Document) []string {
	var codes []string
	seen := map[string]bool{}
	doc.Find(".rating-data-section.problems-solved a[href*='/problems/']").Each(func(_ int, s *goquery.Selection) {
		match := problemCodePattern.FindStringSubmatch(s.AttrOr("href", ""))
		if match == nil {
			return
		}
		code := strings.ToUpper(match[1])
		if seen[code] {
			return
		}
		seen[code] = true
		codes = append(codes, code)
	})
	return codes
}

func (e *Extractor) Extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "codechef.extract")
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
		return profile.Snapshot{}, scrapers.ClassifyPageError(profile.CodeChef, target.Handle, scrapers.ErrNoBrowser)
	}

	url := scrapers.WithCacheBust(e.opts.SiteBase+"/users/"+target.Handle, target.CacheBust)
	page, err := src.Pages.LoadPage(ctx, url, pageOptions)
	if err != nil {
		return profile.Snapshot{}, scrapers.ClassifyPageError(profile.CodeChef, target.Handle, err)
	}

	text := scrapers.PageText(page)
	switch classify(page, text) {
	case pageNotFound:
		return profile.Snapshot{}, profile.NotFound(profile.CodeChef, target.Handle)
	case pageBlocked:
		return profile.Snapshot{}, profile.Blocked(profile.CodeChef, target.Handle, errors.New("captcha challenge"))
	}

	values, err := extract.Evaluate(page.Doc, text, rules)
	var missing *extract.MissingFieldsError
	if errors.As(err, &missing) {
		return profile.Snapshot{}, profile.UnexpectedMarkup(profile.CodeChef, target.Handle, err)
	}

	displayName := values.String("name")
	if displayName == "" {
		displayName = target.Handle
	}
	rating := values.Int("rating")
	maxRating := values.Int("maxRating")
	if maxRating < rating {
		maxRating = rating
	}

	problemCodes := solvedCodes(page.Doc)
	solved := values.Int("solved")
	if !values.Has("solved") {
		solved = len(problemCodes)
	}

	snapshot := profile.Snapshot{
		Platform:             profile.CodeChef,
		Handle:               target.Handle,
		DisplayName:          displayName,
		Rating:               rating,
		MaxRating:            maxRating,
		TotalSolved:          solved,
		ContestsParticipated: values.Int("contests"),
		Activity:             heatmap(page.Doc),
		Badges:               badges(page.Doc),
		FetchedAt:            e.clock.Now(),
		RawText:              text,
	}
	if src.Fetch != nil && len(problemCodes) > 0 {
		ratings := e.problemRatings(ctx, src, problemCodes)
		b := extract.BucketRatings(ratings)
		snapshot.EasySolved = b.Easy
		snapshot.MediumSolved = b.Medium
		snapshot.HardSolved = b.Hard
		snapshot.SetRaw("unratedSolved", len(problemCodes)-b.Total())
	}

	snapshot.SetRaw("stars", values.Int("stars"))
	snapshot.SetRaw("country", values.String("country"))
	snapshot.SetRaw("institution", values.String("institution"))
	return snapshot, nil
}
