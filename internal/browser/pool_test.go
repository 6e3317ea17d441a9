package browser

import (
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu      sync.Mutex
	pages   []RawPage
	errs    []error
	calls   int
	pingErr error
	closed  bool
}

func (d *fakeDriver) Navigate(ctx context.Context, url string, markers []string) (RawPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i < len(d.errs) && d.errs[i] != nil {
		return RawPage{}, d.errs[i]
	}
	if i < len(d.pages) {
		return d.pages[i], nil
	}
	return d.pages[len(d.pages)-1], nil
}

func (d *fakeDriver) Ping(ctx context.Context) error {
	return d.pingErr
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	drivers  []*fakeDriver
	launched int
}

func (l *fakeLauncher) launch(ctx context.Context) (Driver, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.drivers[l.launched]
	l.launched++
	return d, nil
}

func okPage(url string) RawPage {
	return RawPage{
		URL:        url,
		ReadyState: "complete",
		HTML:       `<html><body><div class="profile">hi</div></body></html>`,
		Text:       "hi",
	}
}

var profileOpts = LoadOptions{
	ExpectedDomain:   "example.com",
	SuccessSelectors: []string{".profile"},
	ErrorSelectors:   []string{".not-found"},
	ErrorTexts:       []string{"user does not exist"},
}

func newTestPool(t *testing.T, drivers ...*fakeDriver) (*Pool, *fakeLauncher, *chrono.Fake, *telemetry.Recorder) {
	t.Helper()
	l := &fakeLauncher{drivers: drivers}
	clock := chrono.NewFake(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	rec := &telemetry.Recorder{}
	pool := NewPool(l.launch, DefaultOptions(), clock, rec)
	t.Cleanup(pool.Close)
	return pool, l, clock, rec
}

func TestLoadPageSuccess(t *testing.T) {
	d := &fakeDriver{pages: []RawPage{okPage("https://www.example.com/u/alice")}}
	pool, l, clock, _ := newTestPool(t, d)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	page, err := sess.LoadPage(context.Background(), "https://www.example.com/u/alice", profileOpts)
	require.NoError(t, err)
	require.False(t, page.ErrorMarker)
	require.Equal(t, "hi", page.Doc.Find(".profile").Text())
	require.Equal(t, 1, l.launched)
	require.Empty(t, clock.Sleeps())
}

func TestLoadPageErrorMarker(t *testing.T) {
	notFound := okPage("https://example.com/u/ghost")
	notFound.HTML = `<html><body><h1>oops</h1></body></html>`
	notFound.Text = "This User does not exist"
	d := &fakeDriver{pages: []RawPage{notFound}}
	pool, _, _, _ := newTestPool(t, d)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	page, err := sess.LoadPage(context.Background(), notFound.URL, profileOpts)
	require.NoError(t, err)
	require.True(t, page.ErrorMarker)
}

func TestLoadPageRetriesTransient(t *testing.T) {
	loading := okPage("https://example.com/u/alice")
	loading.ReadyState = "interactive"
	d := &fakeDriver{pages: []RawPage{loading, okPage("https://example.com/u/alice")}}
	pool, l, clock, _ := newTestPool(t, d)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.LoadPage(context.Background(), "https://example.com/u/alice", profileOpts)
	require.NoError(t, err)
	require.Equal(t, 2, d.calls)
	require.Equal(t, 1, l.launched)
	require.Equal(t, []time.Duration{time.Second * 2}, clock.Sleeps())
}

func TestLoadPageWrongDomain(t *testing.T) {
	d := &fakeDriver{pages: []RawPage{okPage("https://login.other.com/")}}
	pool, _, clock, _ := newTestPool(t, d)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.LoadPage(context.Background(), "https://example.com/u/alice", profileOpts)

	var failure *PageLoadFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, 3, failure.Attempts)
	require.False(t, failure.Crashed)
	require.Contains(t, failure.Reason, "unexpected url")
	require.Equal(t, []time.Duration{time.Second * 2, time.Second * 2}, clock.Sleeps())
}

func TestLoadPageMissingMarker(t *testing.T) {
	empty := okPage("https://example.com/u/alice")
	empty.HTML = `<html><body></body></html>`
	d := &fakeDriver{pages: []RawPage{empty}}
	pool, _, _, _ := newTestPool(t, d)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.LoadPage(context.Background(), "https://example.com/u/alice", profileOpts)

	var failure *PageLoadFailure
	require.ErrorAs(t, err, &failure)
	require.Contains(t, failure.Reason, "marker")
}

func TestLoadPageCrashRecreatesSession(t *testing.T) {
	crashed := &fakeDriver{
		errs:    []error{errors.New("target crashed")},
		pages:   []RawPage{okPage("https://example.com/u/alice")},
		pingErr: errors.New("disconnected"),
	}
	fresh := &fakeDriver{pages: []RawPage{okPage("https://example.com/u/alice")}}
	pool, l, clock, rec := newTestPool(t, crashed, fresh)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.LoadPage(context.Background(), "https://example.com/u/alice", profileOpts)
	require.NoError(t, err)

	require.True(t, crashed.closed)
	require.Equal(t, 2, l.launched)
	require.Equal(t, []time.Duration{time.Second * 5, time.Second * 2}, clock.Sleeps())
	require.NotEmpty(t, rec.Reports("warning"))
}

func TestLoadPageUnhealthyRecreated(t *testing.T) {
	stuck := &fakeDriver{
		errs:    []error{errors.New("navigation failed: net::ERR_ABORTED")},
		pingErr: errors.New("no answer"),
	}
	fresh := &fakeDriver{pages: []RawPage{okPage("https://example.com/u/alice")}}
	pool, l, _, _ := newTestPool(t, stuck, fresh)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.LoadPage(context.Background(), "https://example.com/u/alice", profileOpts)
	require.NoError(t, err)
	require.True(t, stuck.closed)
	require.Equal(t, 2, l.launched)
}

func TestLoadPageCrashExhausted(t *testing.T) {
	crash := errors.New("session deleted because of page crash")
	drivers := []*fakeDriver{}
	for range 3 {
		drivers = append(drivers, &fakeDriver{errs: []error{crash}, pingErr: crash})
	}
	pool, _, _, _ := newTestPool(t, drivers...)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.LoadPage(context.Background(), "https://example.com/u/alice", profileOpts)

	var failure *PageLoadFailure
	require.ErrorAs(t, err, &failure)
	require.True(t, failure.Crashed)
	require.ErrorIs(t, err, crash)
}

func TestReleaseMakesHandleStale(t *testing.T) {
	d := &fakeDriver{pages: []RawPage{okPage("https://example.com/u/alice")}}
	pool, _, _, _ := newTestPool(t, d)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = sess.LoadPage(context.Background(), "https://example.com/u/alice", profileOpts)
	require.NoError(t, err)
	require.True(t, sess.IsHealthy(context.Background()))

	sess.Release()
	require.True(t, d.closed)
	require.False(t, sess.IsHealthy(context.Background()))

	_, err = sess.LoadPage(context.Background(), "https://example.com/u/alice", profileOpts)
	require.ErrorIs(t, err, ErrStaleHandle)

	// slot reuse hands out a new generation
	next, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, sess.Handle().index, next.Handle().index)
	require.NotEqual(t, sess.Handle().generation, next.Handle().generation)
}

func TestMaxSessionsBlocks(t *testing.T) {
	clock := chrono.NewFake(time.Now())
	pool := NewPool(
		(&fakeLauncher{}).launch,
		Options{MaxSessions: 1},
		clock,
		&telemetry.Recorder{},
	)
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	first.Release()
	second, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	second.Release()
}

func TestIsCrash(t *testing.T) {
	require.True(t, IsCrash(errors.New("Target Crashed")))
	require.True(t, IsCrash(errors.New("chrome not reachable")))
	require.False(t, IsCrash(errors.New("net::ERR_NAME_NOT_RESOLVED")))
	require.False(t, IsCrash(nil))
}
