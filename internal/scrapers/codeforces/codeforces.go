package codeforces

import (
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
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_extractor_extract = "extractor.extract"
	report_extractor_status  = "extractor.status"
)

var tracer = otel.Tracer("codefolio.internal.scrapers.codeforces")

type Options struct {
	// APIBase is the root of the public api, without a trailing slash.
	APIBase string
	// PageSize is the number of submissions requested per user.status call.
	PageSize int
}

func DefaultOptions() Options {
	return Options{
		APIBase:  "https://codeforces.com/api",
		PageSize: 5000,
	}
}

type Extractor struct {
	opts  Options
	clock chrono.API
	tel   telemetry.API
}

func New(opts Options, clock chrono.API, tel telemetry.API) *Extractor {
	assert.NotNil(clock)
	assert.NotNil(tel)

	defaults := DefaultOptions()
	if opts.APIBase == "" {
		opts.APIBase = defaults.APIBase
	}
	opts.APIBase = strings.TrimSuffix(opts.APIBase, "/")
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	return &Extractor{
		opts:  opts,
		clock: clock,
		tel:   telemetry.NewScopedAPI("codeforces", tel),
	}
}

func (e *Extractor) Platform() profile.Platform {
	return profile.Codeforces
}

func (e *Extractor) NeedsBrowser() bool {
	return false
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  T      `json:"result"`
}

type user struct {
	Handle       string `json:"handle"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Rating       int    `json:"rating"`
	MaxRating    int    `json:"maxRating"`
	Rank         string `json:"rank"`
	MaxRank      string `json:"maxRank"`
	Country      string `json:"country"`
	Organization string `json:"organization"`
	Contribution int    `json:"contribution"`
}

type problem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
}

type submission struct {
	ID                  int64   `json:"id"`
	CreationTimeSeconds int64   `json:"creationTimeSeconds"`
	Problem             problem `json:"problem"`
	Verdict             string  `json:"verdict"`
}

type ratingChange struct {
	ContestID int `json:"contestId"`
	NewRating int `json:"newRating"`
}

// call requests one api method. Codeforces answers failures with a non-2xx
// status and a FAILED envelope whose comment tells what went wrong.
func call[T any](ctx context.Context, client *fetch.Client, base, method string, query map[string]string, fresh bool, handle string) (T, []byte, error) {
	var res envelope[T]
	body, err := client.GetJSON(ctx, base+"/"+method, query, fresh, &res)

	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		var failed envelope[json.RawMessage]
		if json.Unmarshal(statusErr.Body, &failed) == nil && failed.Status == "FAILED" {
			if strings.Contains(strings.ToLower(failed.Comment), "not found") {
				return res.Result, nil, profile.NotFound(profile.Codeforces, handle)
			}
			err = fmt.Errorf("%s: %s: %w", method, failed.Comment, err)
		}
	}
	if err != nil {
		return res.Result, nil, scrapers.ClassifyFetchError(profile.Codeforces, handle, err)
	}
	if res.Status != "OK" {
		if strings.Contains(strings.ToLower(res.Comment), "not found") {
			return res.Result, nil, profile.NotFound(profile.Codeforces, handle)
		}
		return res.Result, nil, profile.UnexpectedMarkup(
			profile.Codeforces,
			handle,
			fmt.Errorf("%s: status %q: %s", method, res.Status, res.Comment),
		)
	}
	return res.Result, body, nil
}

func (e *Extractor) submissions(ctx context.Context, client *fetch.Client, target scrapers.Target) ([]submission, error) {
	var all []submission
	from := 1
	for {
		page, _, err := call[[]submission](ctx, client, e.opts.APIBase, "user.status", map[string]string{
			"handle": target.Handle,
			"from":   strconv.Itoa(from),
			"count":  strconv.Itoa(e.opts.PageSize),
		}, target.Fresh, target.Handle)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < e.opts.PageSize {
			return all, nil
		}
		from += e.opts.PageSize
	}
}

func (e *Extractor) Extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "codeforces.extract")
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
	assert.NotNil(src.Fetch)

	users, rawInfo, err := call[[]user](ctx, src.Fetch, e.opts.APIBase, "user.info", map[string]string{
		"handles": target.Handle,
	}, target.Fresh, target.Handle)
	if err != nil {
		return profile.Snapshot{}, err
	}
	if len(users) == 0 {
		return profile.Snapshot{}, profile.NotFound(profile.Codeforces, target.Handle)
	}
	u := users[0]

	subs, err := e.submissions(ctx, src.Fetch, target)
	if err != nil {
		return profile.Snapshot{}, err
	}

	contests := 0
	changes, _, err := call[[]ratingChange](ctx, src.Fetch, e.opts.APIBase, "user.rating", map[string]string{
		"handle": target.Handle,
	}, target.Fresh, target.Handle)
	if err != nil {
		// contest history is optional, the rest of the profile is still valid
		e.tel.ReportWarning(report_extractor_status, err, target.Handle)
	} else {
		contests = len(changes)
	}

	solved := map[string]int{}
	var accepted []int64
	for _, s := range subs {
		if s.Verdict != "OK" {
			continue
		}
		accepted = append(accepted, s.CreationTimeSeconds)
		key := fmt.Sprintf("%d-%s", s.Problem.ContestID, s.Problem.Index)
		if _, ok := solved[key]; !ok {
			solved[key] = s.Problem.Rating
		}
	}
	ratings := make([]int, 0, len(solved))
	for _, r := range solved {
		ratings = append(ratings, r)
	}
	buckets := extract.BucketRatings(ratings)

	displayName := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if displayName == "" {
		displayName = u.Handle
	}
	handle := u.Handle
	if handle == "" {
		handle = target.Handle
	}

	snapshot := profile.Snapshot{
		Platform:             profile.Codeforces,
		Handle:               handle,
		DisplayName:          displayName,
		Rating:               u.Rating,
		MaxRating:            u.MaxRating,
		TotalSolved:          len(solved),
		EasySolved:           buckets.Easy,
		MediumSolved:         buckets.Medium,
		HardSolved:           buckets.Hard,
		ContestsParticipated: contests,
		Activity:             extract.BucketUnix(accepted, e.clock.Location()),
		FetchedAt:            e.clock.Now(),
		RawText:              string(rawInfo),
	}
	if u.Rank != "" {
		snapshot.Badges = []string{u.Rank}
	}
	snapshot.SetRaw("rank", u.Rank)
	snapshot.SetRaw("maxRank", u.MaxRank)
	snapshot.SetRaw("country", u.Country)
	snapshot.SetRaw("organization", u.Organization)
	snapshot.SetRaw("contribution", u.Contribution)
	snapshot.SetRaw("unratedSolved", len(solved)-buckets.Total())
	return snapshot, nil
}
