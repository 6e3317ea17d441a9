package orchestrator

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/scrapers/codeforces"
	"codefolio-backend/internal/scrapers/registry"
	"codefolio-backend/internal/store"
	"codefolio-backend/lib/testutil"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)

// codeforcesServer serves user.info with the given first name for every handle
// in names, any other handle is reported as missing.
type codeforcesServer struct {
	mu    sync.Mutex
	names map[string]string
	calls atomic.Int32
}

func (c *codeforcesServer) setName(handle, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[handle] = name
}

func (c *codeforcesServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.calls.Add(1)
	handle := r.URL.Query().Get("handles")
	if handle == "" {
		handle = r.URL.Query().Get("handle")
	}

	c.mu.Lock()
	name, ok := c.names[handle]
	c.mu.Unlock()

	w.Header().Set("content-type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"FAILED","comment":"handles: User with handle ` + handle + ` not found"}`))
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/user.info"):
		w.Write([]byte(`{"status":"OK","result":[{"handle":"` + handle + `","firstName":"` + name + `","rating":3979,"maxRating":4229,"rank":"legendary grandmaster"}]}`))
	case strings.HasSuffix(r.URL.Path, "/user.status"):
		// 2024-01-01T10:00:00Z and 2024-01-02T10:00:00Z
		w.Write([]byte(`{"status":"OK","result":[
{"id":1,"creationTimeSeconds":1704103200,"problem":{"contestId":1,"index":"A","rating":1500},"verdict":"OK"},
{"id":2,"creationTimeSeconds":1704189600,"problem":{"contestId":1,"index":"B","rating":1800},"verdict":"OK"},
{"id":3,"creationTimeSeconds":1704189600,"problem":{"contestId":1,"index":"C","rating":2100},"verdict":"OK"}
]}`))
	case strings.HasSuffix(r.URL.Path, "/user.rating"):
		w.Write([]byte(`{"status":"OK","result":[{"contestId":1,"newRating":1500}]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type fixture struct {
	service *Service
	store   *store.SQLStore
	cf      *codeforcesServer
	clock   *chrono.Fake
	tel     *telemetry.Recorder
}

func setup(t *testing.T, extra ...scrapers.Extractor) fixture {
	t.Helper()
	res := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "orchestrator",
		DbSchema: store.Schema,
		Now:      now,
	})

	cf := &codeforcesServer{names: map[string]string{}}
	server := httptest.NewServer(cf)
	t.Cleanup(server.Close)

	clock, tel := res.Clock, res.Tel
	st := store.NewSQLStore(res.DB, clock)

	client, err := fetch.NewClient(fetch.Options{RatePerSecond: 1000, Burst: 1000}, tel)
	require.NoError(t, err)

	extractors := []scrapers.Extractor{
		codeforces.New(codeforces.Options{APIBase: server.URL + "/api"}, clock, tel),
	}
	reg := registry.FromExtractors(append(extractors, extra...)...)

	opts := DefaultOptions()
	opts.Verification.NewCode = func(int) (string, error) { return "AB12CD", nil }

	return fixture{
		service: NewService(st, reg, client, nil, opts, clock, tel),
		store:   st,
		cf:      cf,
		clock:   clock,
		tel:     tel,
	}
}

func (f fixture) verify(t *testing.T, userID, handle string) {
	t.Helper()
	ctx := context.Background()
	f.cf.setName(handle, "AB12CD")
	_, err := f.service.InitVerification(ctx, userID, profile.Codeforces, "https://codeforces.com/profile/"+handle)
	require.NoError(t, err)
	res, err := f.service.ConfirmVerification(ctx, userID, profile.Codeforces)
	require.NoError(t, err)
	require.True(t, res.Verified)
}

func TestCodeforcesVerificationEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	before, err := f.service.Totals(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, before.TotalQuestions)

	code, err := f.service.InitVerification(ctx, "alice", profile.Codeforces, "https://codeforces.com/profile/tourist")
	require.NoError(t, err)
	require.Equal(t, "AB12CD", code)

	f.cf.setName("tourist", code)
	res, err := f.service.ConfirmVerification(ctx, "alice", profile.Codeforces)
	require.NoError(t, err)
	require.True(t, res.Verified)
	require.Equal(t, "AB12CD", res.Snapshot.DisplayName)
	require.Equal(t, 3, res.Snapshot.TotalSolved)
	require.Equal(t, 1, res.Snapshot.EasySolved)
	require.Equal(t, 1, res.Snapshot.MediumSolved)
	require.Equal(t, 1, res.Snapshot.HardSolved)

	after, err := f.service.Totals(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, before.TotalQuestions+res.Snapshot.TotalSolved, after.TotalQuestions)
	require.Equal(t, 2, after.ActiveDays)
	require.Equal(t, []profile.PlatformRating{{Platform: profile.Codeforces, Rating: 3979, MaxRating: 4229}}, after.PerPlatformRating)

	_, status, err := f.service.VerificationStatus(ctx, "alice", profile.Codeforces)
	require.NoError(t, err)
	require.Equal(t, profile.StatusVerified, status)
}

func TestVerificationBoundSkipsExtraction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.cf.setName("tourist", "Gennady")

	_, err := f.service.InitVerification(ctx, "alice", profile.Codeforces, "https://codeforces.com/profile/tourist")
	require.NoError(t, err)

	for range profile.DefaultMaxAttempts {
		res, err := f.service.ConfirmVerification(ctx, "alice", profile.Codeforces)
		require.NoError(t, err)
		require.False(t, res.Verified)
	}

	calls := f.cf.calls.Load()
	_, err = f.service.ConfirmVerification(ctx, "alice", profile.Codeforces)
	require.True(t, profile.IsKind(err, profile.KindMaxAttemptsExceeded), err)
	require.Equal(t, calls, f.cf.calls.Load())
}

func TestScrapeProfile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.ScrapeProfile(ctx, "alice", profile.Codeforces, "tourist")
	require.ErrorIs(t, err, ErrNotVerified)

	f.verify(t, "alice", "tourist")

	res, err := f.service.ScrapeProfile(ctx, "alice", profile.Codeforces, "")
	require.NoError(t, err)
	require.Equal(t, 3, res.Totals.TotalQuestions)

	// the stored handle is scraped, not the casing the caller typed
	res, err = f.service.ScrapeProfile(ctx, "alice", profile.Codeforces, "https://codeforces.com/profile/Tourist")
	require.NoError(t, err)
	require.Equal(t, 3, res.Totals.TotalQuestions)
	require.Equal(t, "tourist", res.Snapshot.Handle)

	_, err = f.service.ScrapeProfile(ctx, "alice", profile.Codeforces, "petr")
	require.ErrorIs(t, err, ErrHandleMismatch)
}

func TestScrapeProfileNotFound(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.verify(t, "alice", "tourist")

	f.cf.mu.Lock()
	delete(f.cf.names, "tourist")
	f.cf.mu.Unlock()

	_, err := f.service.ScrapeProfile(ctx, "alice", profile.Codeforces, "")
	require.True(t, profile.IsKind(err, profile.KindProfileNotFound), err)
	require.Contains(t, err.Error(), "tourist")

	// the previous snapshot is kept
	snapshots, err := f.service.Snapshots(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
}

func TestScrapeCanceledPersistsNothing(t *testing.T) {
	f := setup(t)
	f.verify(t, "alice", "tourist")
	require.NoError(t, f.store.DeleteSnapshot(context.Background(), "alice", profile.Codeforces))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.service.ScrapeProfile(ctx, "alice", profile.Codeforces, "")
	require.Error(t, err)

	_, err = f.store.GetSnapshot(context.Background(), "alice", profile.Codeforces)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemovePlatform(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.verify(t, "alice", "tourist")

	totals, err := f.service.RemovePlatform(ctx, "alice", profile.Codeforces)
	require.NoError(t, err)
	require.Zero(t, totals.TotalQuestions)
	require.Empty(t, totals.UnifiedActivity)

	_, status, err := f.service.VerificationStatus(ctx, "alice", profile.Codeforces)
	require.NoError(t, err)
	require.Equal(t, profile.StatusNone, status)
}

// gatedExtractor signals started and then blocks until release is closed.
type gatedExtractor struct {
	platform profile.Platform
	started  chan struct{}
	release  chan struct{}
}

func (e *gatedExtractor) Platform() profile.Platform { return e.platform }
func (e *gatedExtractor) NeedsBrowser() bool         { return false }

func (e *gatedExtractor) Extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	e.started <- struct{}{}
	<-e.release
	return profile.Snapshot{
		Platform:    e.platform,
		Handle:      target.Handle,
		TotalSolved: 40,
		FetchedAt:   now,
	}, nil
}

func TestRemovePlatformDuringScrape(t *testing.T) {
	gated := &gatedExtractor{
		platform: profile.LeetCode,
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	f := setup(t, gated)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertVerification(ctx, profile.VerificationRecord{
		UserID:    "alice",
		Platform:  profile.LeetCode,
		Handle:    "neal_wu",
		Code:      "AB12CD",
		Verified:  true,
		CreatedAt: now,
	}))

	done := make(chan error, 1)
	go func() {
		_, err := f.service.ScrapeProfile(ctx, "alice", profile.LeetCode, "")
		done <- err
	}()

	<-gated.started
	_, err := f.service.RemovePlatform(ctx, "alice", profile.LeetCode)
	require.NoError(t, err)
	close(gated.release)

	err = <-done
	require.ErrorIs(t, err, ErrNotVerified)
	require.False(t, f.tel.HasBroken(report_service_persist))

	_, err = f.store.GetSnapshot(ctx, "alice", profile.LeetCode)
	require.ErrorIs(t, err, store.ErrNotFound)
	totals, err := f.service.Totals(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, totals.TotalQuestions)
}

// slowFirstExtractor overruns the attempt timeout once, ignoring its context.
type slowFirstExtractor struct {
	calls    atomic.Int32
	finished atomic.Bool
}

func (e *slowFirstExtractor) Platform() profile.Platform { return profile.HackerRank }
func (e *slowFirstExtractor) NeedsBrowser() bool         { return false }

func (e *slowFirstExtractor) Extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	if e.calls.Add(1) == 1 {
		time.Sleep(100 * time.Millisecond)
		e.finished.Store(true)
		return profile.Snapshot{Platform: profile.HackerRank, Handle: target.Handle, TotalSolved: 1}, nil
	}
	return profile.Snapshot{Platform: profile.HackerRank, Handle: target.Handle, TotalSolved: 2}, nil
}

func TestScrapeReturnsWinningAttempt(t *testing.T) {
	slow := &slowFirstExtractor{}
	f := setup(t, slow)
	f.service.opts.Retry.AttemptTimeout = 20 * time.Millisecond

	snapshot, err := f.service.Scrape(context.Background(), profile.HackerRank, scrapers.Target{Handle: "gennady"})
	require.NoError(t, err)
	require.Equal(t, 2, snapshot.TotalSolved)
	require.EqualValues(t, 2, slow.calls.Load())

	require.Eventually(t, slow.finished.Load, time.Second, time.Millisecond)
	require.Equal(t, 2, snapshot.TotalSolved)
}

func TestRefreshAll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.verify(t, "alice", "tourist")
	f.verify(t, "bob", "petr")
	f.verify(t, "carol", "um_nik")

	f.cf.mu.Lock()
	delete(f.cf.names, "petr")
	f.cf.mu.Unlock()

	sleepsBefore := len(f.clock.Sleeps())
	report, err := f.service.RefreshAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, report.Jobs)
	require.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "bob", report.Failures[0].UserID)
	require.NotEmpty(t, report.Failures[0].JobID)
	require.True(t, profile.IsKind(report.Failures[0].Err, profile.KindProfileNotFound))

	gaps := 0
	for _, d := range f.clock.Sleeps()[sleepsBefore:] {
		if d == DefaultRefreshOptions().Gap {
			gaps++
		}
	}
	require.Equal(t, 2, gaps)
}

type fakeCron struct {
	spec     string
	callback func()
}

func (c *fakeCron) Cron(spec string, callback func()) error {
	c.spec = spec
	c.callback = callback
	return nil
}

func TestSchedule(t *testing.T) {
	f := setup(t)
	f.verify(t, "alice", "tourist")
	require.NoError(t, f.store.DeleteSnapshot(context.Background(), "alice", profile.Codeforces))

	cron := &fakeCron{}
	require.NoError(t, f.service.Schedule(context.Background(), cron))
	require.Equal(t, "0 2 * * *", cron.spec)

	cron.callback()
	_, err := f.store.GetSnapshot(context.Background(), "alice", profile.Codeforces)
	require.NoError(t, err)
}

// pageExtractor loads one page per attempt through the job session.
type pageExtractor struct {
	platform profile.Platform
	loads    atomic.Int32
}

func (e *pageExtractor) Platform() profile.Platform { return e.platform }
func (e *pageExtractor) NeedsBrowser() bool         { return true }

func (e *pageExtractor) Extract(ctx context.Context, src scrapers.Source, target scrapers.Target) (profile.Snapshot, error) {
	if src.Pages == nil {
		return profile.Snapshot{}, scrapers.ClassifyPageError(e.platform, target.Handle, scrapers.ErrNoBrowser)
	}
	e.loads.Add(1)
	page, err := src.Pages.LoadPage(ctx, "https://www.geeksforgeeks.org/user/"+target.Handle+"/", browser.LoadOptions{
		ExpectedDomain: "geeksforgeeks.org",
	})
	if err != nil {
		return profile.Snapshot{}, scrapers.ClassifyPageError(e.platform, target.Handle, err)
	}
	return profile.Snapshot{
		Platform:    e.platform,
		Handle:      target.Handle,
		DisplayName: scrapers.PageText(page),
		FetchedAt:   now,
	}, nil
}

type crashingDriver struct {
	navigations atomic.Int32
}

func (d *crashingDriver) Navigate(ctx context.Context, url string, markers []string) (browser.RawPage, error) {
	d.navigations.Add(1)
	return browser.RawPage{}, errors.New("target crashed")
}

func (d *crashingDriver) Ping(ctx context.Context) error { return errors.New("session closed") }
func (d *crashingDriver) Close() error                   { return nil }

func TestScrapeWithoutBrowser(t *testing.T) {
	e := &pageExtractor{platform: profile.GFG}
	f := setup(t, e)

	_, err := f.service.Scrape(context.Background(), profile.GFG, scrapers.Target{Handle: "geek"})
	require.ErrorIs(t, err, scrapers.ErrNoBrowser)
	require.Zero(t, e.loads.Load())
}

func TestBreakerResetsSession(t *testing.T) {
	e := &pageExtractor{platform: profile.GFG}
	f := setup(t, e)

	var launches atomic.Int32
	driver := &crashingDriver{}
	poolOpts := browser.DefaultOptions()
	poolOpts.MaxAttempts = 1
	pool := browser.NewPool(func(ctx context.Context) (browser.Driver, error) {
		launches.Add(1)
		return driver, nil
	}, poolOpts, f.clock, f.tel)
	defer pool.Close()

	opts := DefaultOptions()
	opts.Retry.MaxAttempts = 5
	opts.BreakerThreshold = 3
	client, err := fetch.NewClient(fetch.Options{}, f.tel)
	require.NoError(t, err)
	service := NewService(f.store, registry.FromExtractors(e), client, pool, opts, f.clock, f.tel)

	_, err = service.Scrape(context.Background(), profile.GFG, scrapers.Target{Handle: "geek"})
	require.ErrorIs(t, err, browser.ErrCircuitOpen)
	require.True(t, profile.IsKind(err, profile.KindBrowserCrash))

	// three failed loads trip the breaker, the fourth attempt is refused
	require.EqualValues(t, 4, e.loads.Load())
	require.EqualValues(t, 3, driver.navigations.Load())
	require.NotEmpty(t, f.tel.Reports("warning"))

	// the session went back to the pool
	session, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	session.Release()
}

func TestJobSessionIsLazy(t *testing.T) {
	var launches atomic.Int32
	pool := browser.NewPool(func(ctx context.Context) (browser.Driver, error) {
		launches.Add(1)
		return &crashingDriver{}, nil
	}, browser.DefaultOptions(), chrono.NewFake(now), &telemetry.Recorder{})
	defer pool.Close()

	session := newJobSession(pool, 3, &telemetry.Recorder{})
	session.Release()
	require.False(t, session.Tripped())
	require.Zero(t, launches.Load())
}
