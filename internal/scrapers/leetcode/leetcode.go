package leetcode

import (
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/scrapers/extract"
	"codefolio-backend/lib/textutil"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_extractor_extract  = "extractor.extract"
	report_extractor_fallback = "extractor.fallback"
)

var tracer = otel.Tracer("codefolio.internal.scrapers.leetcode")

const profileQuery = `query userProfile($username: String!) {
  matchedUser(username: $username) {
    username
    profile { realName ranking aboutMe countryName school company }
    submitStats: submitStatsGlobal {
      acSubmissionNum { difficulty count }
    }
    userCalendar { streak totalActiveDays submissionCalendar }
  }
  userContestRanking(username: $username) {
    attendedContestsCount
    rating
    globalRanking
  }
}`

type Options struct {
	// Endpoint is the graphql endpoint.
	Endpoint string
	// SiteBase is used for the Referer header and browser fallback urls.
	SiteBase string
}

func DefaultOptions() Options {
	return Options{
		Endpoint: "https://leetcode.com/graphql",
		SiteBase: "https://leetcode.com",
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
	if opts.Endpoint == "" {
		opts.Endpoint = defaults.Endpoint
	}
	if opts.SiteBase == "" {
		opts.SiteBase = defaults.SiteBase
	}
	opts.SiteBase = strings.TrimSuffix(opts.SiteBase, "/")
	return &Extractor{
		opts:  opts,
		clock: clock,
		tel:   telemetry.NewScopedAPI("leetcode", tel),
	}
}

func (e *Extractor) Platform() profile.Platform {
	return profile.LeetCode
}

func (e *Extractor) NeedsBrowser() bool {
	return false
}

type difficultyCount struct {
	Difficulty string `json:"difficulty"`
	Count      int    `json:"count"`
}

type matchedUser struct {
	Username string `json:"username"`
	Profile  struct {
		RealName    string `json:"realName"`
		Ranking     int    `json:"ranking"`
		AboutMe     string `json:"aboutMe"`
		CountryName string `json:"countryName"`
		School      string `json:"school"`
		Company     string `json:"company"`
	} `json:"profile"`
	SubmitStats struct {
		AcSubmissionNum []difficultyCount `json:"acSubmissionNum"`
	} `json:"submitStats"`
	UserCalendar *struct {
		Streak             int    `json:"streak"`
		TotalActiveDays    int    `json:"totalActiveDays"`
		SubmissionCalendar string `json:"submissionCalendar"`
	} `json:"userCalendar"`
}

type profileResponse struct {
	MatchedUser        *matchedUser `json:"matchedUser"`
	UserContestRanking *struct {
		AttendedContestsCount int     `json:"attendedContestsCount"`
		Rating                float64 `json:"rating"`
		GlobalRanking         int     `json:"globalRanking"`
	} `json:"userContestRanking"`
}

// parseCalendar decodes the submission calendar, a json object of unix
// seconds to counts encoded as a string. Days are always UTC, which is how
// leetcode itself draws the calendar.
func parseCalendar(raw string) ([]profile.ActivityEntry, error) {
	if raw == "" {
		return nil, nil
	}
	var calendar map[string]int
	err := json.Unmarshal([]byte(raw), &calendar)
	if err != nil {
		return nil, err
	}
	counts := map[int64]int{}
	for ts, count := range calendar {
		seconds, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			continue
		}
		counts[seconds] += count
	}
	return extract.BucketUnixCounts(counts, time.UTC), nil
}

func buckets(counts []difficultyCount) extract.Buckets {
	var b extract.Buckets
	for _, c := range counts {
		switch c.Difficulty {
		case "Easy":
			b.Easy = c.Count
		case "Medium":
			b.Medium = c.Count
		case "Hard":
			b.Hard = c.Count
		}
	}
	return b
}

func (e *Extractor) Extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "leetcode.extract")
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

func (e *Extractor) extractAPI(ctx context.Context, client *fetch.Client, target scrapers.Target) (profile.Snapshot, error) {
	assert.NotNil(client)

	var res profileResponse
	body, err := client.GraphQL(
		ctx,
		e.opts.Endpoint,
		map[string]string{
			"referer": e.opts.SiteBase + "/" + target.Handle,
			"origin":  e.opts.SiteBase,
		},
		fetch.GraphQLRequest{
			Query:     profileQuery,
			Variables: map[string]any{"username": target.Handle},
		},
		&res,
	)
	// an unknown user comes back as a null matchedUser next to a graphql error
	if res.MatchedUser == nil && (err == nil || isGraphQLError(err)) {
		return profile.Snapshot{}, profile.NotFound(profile.LeetCode, target.Handle)
	}
	if err != nil && !isGraphQLError(err) {
		return profile.Snapshot{}, scrapers.ClassifyFetchError(profile.LeetCode, target.Handle, err)
	}
	if err != nil {
		e.tel.ReportDebug("partial graphql response", target.Handle, err)
	}

	u := res.MatchedUser
	b := buckets(u.SubmitStats.AcSubmissionNum)

	var activity []profile.ActivityEntry
	if u.UserCalendar != nil {
		activity, err = parseCalendar(u.UserCalendar.SubmissionCalendar)
		if err != nil {
			return profile.Snapshot{}, profile.UnexpectedMarkup(profile.LeetCode, target.Handle, err)
		}
	}

	displayName := u.Profile.RealName
	if displayName == "" {
		displayName = textutil.Truncate(strings.TrimSpace(u.Profile.AboutMe), 120)
	}
	if displayName == "" {
		displayName = u.Username
	}

	snapshot := profile.Snapshot{
		Platform:     profile.LeetCode,
		Handle:       u.Username,
		DisplayName:  displayName,
		TotalSolved:  b.Total(),
		EasySolved:   b.Easy,
		MediumSolved: b.Medium,
		HardSolved:   b.Hard,
		Activity:     activity,
		FetchedAt:    e.clock.Now(),
		RawText:      string(body),
	}
	if res.UserContestRanking != nil {
		snapshot.ContestsParticipated = res.UserContestRanking.AttendedContestsCount
		snapshot.Rating = int(res.UserContestRanking.Rating)
		snapshot.MaxRating = snapshot.Rating
		snapshot.SetRaw("globalRanking", res.UserContestRanking.GlobalRanking)
	}
	if u.UserCalendar != nil {
		snapshot.SetRaw("streak", u.UserCalendar.Streak)
		snapshot.SetRaw("totalActiveDays", u.UserCalendar.TotalActiveDays)
	}
	snapshot.SetRaw("ranking", u.Profile.Ranking)
	snapshot.SetRaw("country", u.Profile.CountryName)
	snapshot.SetRaw("school", u.Profile.School)
	snapshot.SetRaw("company", u.Profile.Company)
	return snapshot, nil
}

func isGraphQLError(err error) bool {
	var gqlErr *fetch.GraphQLError
	return errors.As(err, &gqlErr)
}
