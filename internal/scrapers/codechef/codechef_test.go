package codechef

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type fakePages struct {
	html        string
	errorMarker bool
}

func (f *fakePages) LoadPage(ctx context.Context, url string, opts browser.LoadOptions) (*browser.Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(f.html))
	if err != nil {
		return nil, err
	}
	return &browser.Page{RawPage: browser.RawPage{URL: url, HTML: f.html}, Doc: doc, ErrorMarker: f.errorMarker}, nil
}

var ratings = map[string]string{
	"FLOW001":  `{"status":"success","difficulty_rating":"1200"}`,
	"CHEFHARD": `{"status":"success","difficulty_rating":2450}`,
	"MEDPROB":  `{"status":"success","difficulty_rating":"1850"}`,
	"NORATE":   `{"status":"success","difficulty_rating":"-1"}`,
}

func newPracticeServer(t *testing.T, calls *int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		code := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		body, ok := ratings[code]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func setup(t *testing.T) (*Extractor, scrapers.Source, *int64) {
	t.Helper()
	var calls int64
	server := newPracticeServer(t, &calls)

	tel := &telemetry.Recorder{}
	client, err := fetch.NewClient(fetch.Options{RatePerSecond: 100, Burst: 100}, tel)
	require.NoError(t, err)

	html, err := os.ReadFile("testdata/profile.html")
	require.NoError(t, err)

	e := New(Options{SiteBase: server.URL}, chrono.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)), tel)
	return e, scrapers.Source{Fetch: client, Pages: &fakePages{html: string(html)}}, &calls
}

func TestExtract(t *testing.T) {
	e, src, calls := setup(t)

	snapshot, err := e.Extract(context.Background(), src, scrapers.Target{Handle: "chef_one"})
	require.NoError(t, err)

	require.Equal(t, "AB12CD Kumar", snapshot.DisplayName)
	require.Equal(t, 1823, snapshot.Rating)
	require.Equal(t, 2011, snapshot.MaxRating)
	require.Equal(t, 4, snapshot.TotalSolved)
	require.Equal(t, 45, snapshot.ContestsParticipated)
	require.Equal(t, 1, snapshot.EasySolved)
	require.Equal(t, 1, snapshot.MediumSolved)
	require.Equal(t, 1, snapshot.HardSolved)
	require.Equal(t, 1, snapshot.RawFields["unratedSolved"])
	require.Equal(t, 3, snapshot.RawFields["stars"])
	require.Equal(t, "India", snapshot.RawFields["country"])
	require.Equal(t, "Example University", snapshot.RawFields["institution"])
	require.Equal(t, []string{"Contest Contender", "Problem Solver"}, snapshot.Badges)
	require.Equal(t, []profile.ActivityEntry{
		{Date: "2024-05-30", Count: 2},
		{Date: "2024-06-01", Count: 5},
	}, snapshot.Activity)
	require.EqualValues(t, 4, *calls)

	// problem ratings are cached across extractions
	_, err = e.Extract(context.Background(), src, scrapers.Target{Handle: "chef_one", Fresh: true})
	require.NoError(t, err)
	require.EqualValues(t, 4, *calls)
}

func TestExtractNotFound(t *testing.T) {
	e, src, _ := setup(t)
	src.Pages = &fakePages{html: `<html><body><h1>The user does not exist</h1></body></html>`, errorMarker: true}

	_, err := e.Extract(context.Background(), src, scrapers.Target{Handle: "ghost"})
	require.True(t, profile.IsKind(err, profile.KindProfileNotFound), err)
}

func TestExtractCaptcha(t *testing.T) {
	e, src, _ := setup(t)
	src.Pages = &fakePages{html: `<html><body><div id="captcha-box">are you a robot</div></body></html>`, errorMarker: true}

	_, err := e.Extract(context.Background(), src, scrapers.Target{Handle: "chef_one"})
	require.True(t, profile.IsKind(err, profile.KindBlockedOrRateLimited), err)
}

func TestExtractMissingRating(t *testing.T) {
	e, src, _ := setup(t)
	src.Pages = &fakePages{html: `<html><body><div class="user-details-container"><h1>someone</h1></div></body></html>`}

	_, err := e.Extract(context.Background(), src, scrapers.Target{Handle: "someone"})
	require.True(t, profile.IsKind(err, profile.KindUnexpectedMarkup), err)
}

func TestRatingCache(t *testing.T) {
	c := newRatingCache(1, time.Hour)
	_, ok := c.Get("A")
	require.False(t, ok)
	c.Set("A", 1234)
	c.Set("B", -1)
	rating, ok := c.Get("A")
	require.True(t, ok)
	require.Equal(t, 1234, rating)
	rating, _ = c.Get("B")
	require.Equal(t, -1, rating)
}

func TestProblemResponseRatingShapes(t *testing.T) {
	cases := map[string]int{
		`{"status":"success","difficulty_rating":1850}`:   1850,
		`{"status":"success","difficulty_rating":"1420"}`: 1420,
		`{"status":"success","difficulty_rating":null}`:   0,
		`{"status":"success","difficulty_rating":""}`:     0,
	}
	for body, expect := range cases {
		var res problemResponse
		require.NoError(t, json.Unmarshal([]byte(body), &res), body)
		require.Equal(t, expect, int(res.DifficultyRating), body)
	}
}
