package browser

import (
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/lib/htmlutil"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_pool_launch    = "pool.launch"
	report_pool_load_page = "pool.load-page"
	report_pool_teardown  = "pool.teardown"
	report_pool_sessions  = "pool.sessions"
)

var tracer = otel.Tracer("codefolio.internal.browser")

var ErrStaleHandle = errors.New("browser: stale session handle")
var ErrPoolClosed = errors.New("browser: pool closed")

// ErrCircuitOpen is returned for work on a session that was reset after too
// many consecutive failures.
var ErrCircuitOpen = errors.New("browser: session circuit open")

type Options struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	CrashCooldown time.Duration
	PageTimeout   time.Duration
	HealthTimeout time.Duration
	// MaxSessions bounds the number of concurrently acquired sessions, zero is unbounded.
	MaxSessions int
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		RetryDelay:    time.Second * 2,
		CrashCooldown: time.Second * 5,
		PageTimeout:   time.Second * 45,
		HealthTimeout: time.Second * 5,
	}
}

// Handle is an opaque reference to a session slot, it becomes stale once released.
type Handle struct {
	index      int
	generation uint64
}

type slot struct {
	generation uint64
	inUse      bool
	driver     Driver
}

// Pool arena-allocates browser sessions. A session is owned by exactly one job
// between Acquire and Release.
type Pool struct {
	mu     sync.Mutex
	slots  []*slot
	free   []int
	sem    chan struct{}
	closed bool

	launch Launcher
	opts   Options
	time   chrono.API
	tel    telemetry.API
}

func NewPool(launch Launcher, opts Options, clock chrono.API, tel telemetry.API) *Pool {
	assert.NotNil(launch)
	assert.NotNil(clock)
	assert.NotNil(tel)

	defaults := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaults.PageTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = defaults.HealthTimeout
	}

	p := &Pool{
		launch: launch,
		opts:   opts,
		time:   clock,
		tel:    telemetry.NewScopedAPI("browser", tel),
	}
	if opts.MaxSessions > 0 {
		p.sem = make(chan struct{}, opts.MaxSessions)
	}
	return p
}

// Acquire reserves a session. The browser process is started lazily on the
// first page load.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		if p.sem != nil {
			<-p.sem
		}
		return nil, ErrPoolClosed
	}

	var index int
	if len(p.free) > 0 {
		index = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	} else {
		p.slots = append(p.slots, &slot{})
		index = len(p.slots) - 1
	}
	s := p.slots[index]
	s.generation++
	s.inUse = true

	p.tel.ReportCount(report_pool_sessions, int64(len(p.slots)-len(p.free)))
	return &Session{pool: p, handle: Handle{index: index, generation: s.generation}}, nil
}

func (p *Pool) slot(h Handle) (*slot, error) {
	if h.index < 0 || h.index >= len(p.slots) {
		return nil, ErrStaleHandle
	}
	s := p.slots[h.index]
	if !s.inUse || s.generation != h.generation {
		return nil, ErrStaleHandle
	}
	return s, nil
}

// takeDriver detaches the driver of a slot so it can be closed without holding the lock.
func (p *Pool) takeDriver(h Handle) Driver {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slot(h)
	if err != nil {
		return nil
	}
	d := s.driver
	s.driver = nil
	return d
}

func (p *Pool) closeDriver(d Driver) {
	if d == nil {
		return
	}
	err := d.Close()
	if err != nil {
		p.tel.ReportWarning(report_pool_teardown, err)
	}
}

// Reset tears down the browser process of a session, the next page load
// starts a fresh one.
func (p *Pool) Reset(h Handle) {
	p.closeDriver(p.takeDriver(h))
}

// Release tears down the session and makes its handle stale.
func (p *Pool) Release(h Handle) {
	d := p.takeDriver(h)
	p.closeDriver(d)

	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slot(h)
	if err != nil {
		return
	}
	s.inUse = false
	p.free = append(p.free, h.index)
	if p.sem != nil {
		<-p.sem
	}
}

// Close tears down every session, handles in use become stale.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	drivers := []Driver{}
	for _, s := range p.slots {
		if s.driver != nil {
			drivers = append(drivers, s.driver)
			s.driver = nil
		}
		s.generation++
	}
	p.mu.Unlock()

	for _, d := range drivers {
		p.closeDriver(d)
	}
}

func (p *Pool) ensureDriver(ctx context.Context, h Handle) (Driver, error) {
	p.mu.Lock()
	s, err := p.slot(h)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if s.driver != nil {
		d := s.driver
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	d, err := p.launch(ctx)
	if err != nil {
		p.tel.ReportBroken(report_pool_launch, err)
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s, err = p.slot(h)
	if err != nil {
		go d.Close()
		return nil, err
	}
	s.driver = d
	return d, nil
}

// IsHealthy reports whether the session's browser process answers a ping.
// A session without a running process is unhealthy.
func (p *Pool) IsHealthy(ctx context.Context, h Handle) bool {
	p.mu.Lock()
	s, err := p.slot(h)
	if err != nil || s.driver == nil {
		p.mu.Unlock()
		return false
	}
	d := s.driver
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.opts.HealthTimeout)
	defer cancel()
	return d.Ping(ctx) == nil
}

func onDomain(rawUrl, domain string) bool {
	if domain == "" {
		return true
	}
	u, err := url.Parse(rawUrl)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func anyPresent(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func anyText(text string, phrases []string) bool {
	text = strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(text, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// validate checks a raw page against the success criteria, it returns the reason
// of the failure or an empty string.
func validate(ctx context.Context, raw RawPage, opts LoadOptions) (*Page, string) {
	if !onDomain(raw.URL, opts.ExpectedDomain) {
		return nil, fmt.Sprintf("landed on unexpected url %s", raw.URL)
	}
	if raw.ReadyState != "complete" {
		return nil, fmt.Sprintf("document not ready (%s)", raw.ReadyState)
	}
	doc, err := htmlutil.ParseDocument(ctx, []byte(raw.HTML))
	if err != nil {
		return nil, "unparsable document"
	}

	page := &Page{RawPage: raw, Doc: doc}
	if anyPresent(doc, opts.ErrorSelectors) || anyText(raw.Text, opts.ErrorTexts) {
		page.ErrorMarker = true
		return page, ""
	}
	if len(opts.SuccessSelectors) == 0 || anyPresent(doc, opts.SuccessSelectors) {
		return page, ""
	}
	return nil, "no success or error marker present"
}

func (p *Pool) navigate(ctx context.Context, d Driver, target string, opts LoadOptions) (RawPage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.PageTimeout)
	defer cancel()
	return d.Navigate(ctx, target, opts.markers())
}

// LoadPage navigates the session to target, retrying transient failures.
// Before every retry the session is health checked and recreated if it stopped
// answering, crashes additionally wait for the crash cooldown.
func (p *Pool) LoadPage(ctx context.Context, h Handle, target string, opts LoadOptions) (*Page, error) {
	ctx, span := tracer.Start(ctx, "browser.load-page")
	defer span.End()
	span.SetAttributes(attribute.String("url", target))

	failure := &PageLoadFailure{URL: target}
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		failure.Attempts = attempt
		failure.Crashed = false

		if attempt > 1 && !p.IsHealthy(ctx, h) {
			p.tel.ReportDebug("recreating unhealthy session", target, attempt)
			p.Reset(h)
		}

		d, err := p.ensureDriver(ctx, h)
		if errors.Is(err, ErrStaleHandle) {
			return nil, err
		}
		if err == nil {
			var raw RawPage
			raw, err = p.navigate(ctx, d, target, opts)
			if err == nil {
				page, reason := validate(ctx, raw, opts)
				if reason == "" {
					span.SetAttributes(attribute.Int("attempts", attempt))
					return page, nil
				}
				failure.Reason = reason
				failure.Err = nil
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failure.Err = err
			failure.Reason = "navigation failed"
			if errors.Is(err, context.DeadlineExceeded) {
				failure.Reason = "timed out"
			}
			if IsCrash(err) {
				failure.Reason = "browser crashed"
				failure.Crashed = true
				p.tel.ReportWarning(report_pool_load_page, err, target, attempt)
				p.Reset(h)
				if err := p.time.Sleep(ctx, p.opts.CrashCooldown); err != nil {
					return nil, err
				}
			}
		}

		p.tel.ReportDebug("page load attempt failed", target, attempt, failure.Reason)
		if attempt < p.opts.MaxAttempts {
			if err := p.time.Sleep(ctx, p.opts.RetryDelay); err != nil {
				return nil, err
			}
		}
	}

	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Reason)
	return nil, failure
}

// Session is the handle of an acquired session bound to its pool.
type Session struct {
	pool   *Pool
	handle Handle
}

func (s *Session) Handle() Handle {
	return s.handle
}

func (s *Session) LoadPage(ctx context.Context, target string, opts LoadOptions) (*Page, error) {
	return s.pool.LoadPage(ctx, s.handle, target, opts)
}

func (s *Session) IsHealthy(ctx context.Context) bool {
	return s.pool.IsHealthy(ctx, s.handle)
}

func (s *Session) Reset() {
	s.pool.Reset(s.handle)
}

func (s *Session) Release() {
	s.pool.Release(s.handle)
}
