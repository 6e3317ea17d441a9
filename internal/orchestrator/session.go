package orchestrator

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/telemetry"
	"context"
	"sync"
)

const report_session_breaker = "session.breaker"

// jobSession gives one job exclusive use of a browser session. The session
// is acquired on the first page load so API only extractions never touch the
// pool. It trips after threshold consecutive failed loads, resetting the
// browser and refusing further work.
type jobSession struct {
	pool      *browser.Pool
	threshold int
	tel       telemetry.API

	mu       sync.Mutex
	session  *browser.Session
	failures int
	open     bool
}

func newJobSession(pool *browser.Pool, threshold int, tel telemetry.API) *jobSession {
	return &jobSession{pool: pool, threshold: threshold, tel: tel}
}

func (j *jobSession) LoadPage(ctx context.Context, url string, opts browser.LoadOptions) (*browser.Page, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.open {
		return nil, browser.ErrCircuitOpen
	}
	if j.session == nil {
		session, err := j.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		j.session = session
	}

	page, err := j.session.LoadPage(ctx, url, opts)
	if err != nil {
		j.failures++
		if j.failures >= j.threshold {
			j.open = true
			j.session.Reset()
			j.tel.ReportWarning(report_session_breaker, url, j.failures, err)
		}
		return nil, err
	}
	j.failures = 0
	return page, nil
}

// Tripped reports whether the breaker opened.
func (j *jobSession) Tripped() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.open
}

// Release returns the session to the pool, it is safe to call when no
// session was ever acquired.
func (j *jobSession) Release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.session != nil {
		j.session.Release()
		j.session = nil
	}
}
