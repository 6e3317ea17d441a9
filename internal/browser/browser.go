package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Driver is one headless browser process.
//
// note: fault injection point
type Driver interface {
	// Navigate loads url and returns the rendered page. markers are css selectors
	// the driver may wait for before taking the snapshot of the DOM.
	Navigate(ctx context.Context, url string, markers []string) (RawPage, error)
	// Ping checks that the process still answers.
	Ping(ctx context.Context) error
	Close() error
}

// Launcher starts a new Driver.
type Launcher func(ctx context.Context) (Driver, error)

// RawPage is what a driver observed after navigation.
type RawPage struct {
	URL        string
	ReadyState string
	HTML       string
	Text       string
}

// Page is a successfully loaded page.
type Page struct {
	RawPage
	Doc *goquery.Document
	// ErrorMarker is true when a known-error marker (e.g. a "user not found"
	// banner) was matched instead of a success marker.
	ErrorMarker bool
}

type LoadOptions struct {
	// ExpectedDomain is the hostname (or parent domain) the final url must be on.
	ExpectedDomain string
	// SuccessSelectors and ErrorSelectors are css selectors, a load succeeds
	// once any of them is present.
	SuccessSelectors []string
	ErrorSelectors   []string
	// ErrorTexts are case-insensitive phrases of the visible text that count as
	// a known-error marker.
	ErrorTexts []string
}

func (o LoadOptions) markers() []string {
	markers := make([]string, 0, len(o.SuccessSelectors)+len(o.ErrorSelectors))
	markers = append(markers, o.SuccessSelectors...)
	markers = append(markers, o.ErrorSelectors...)
	return markers
}

// PageLoadFailure is returned once every attempt of LoadPage failed, callers
// must not use any partial DOM state.
type PageLoadFailure struct {
	URL      string
	Reason   string
	Attempts int
	// Crashed is true when the last failure was a browser crash.
	Crashed bool
	Err     error
}

func (f *PageLoadFailure) Error() string {
	msg := fmt.Sprintf("load %s: %s after %d attempts", f.URL, f.Reason, f.Attempts)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *PageLoadFailure) Unwrap() error {
	return f.Err
}

var crashKeywords = []string{"crash", "not reachable", "disconnected", "session"}

// IsCrash reports whether err indicates that the browser process itself died.
func IsCrash(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, k := range crashKeywords {
		if strings.Contains(msg, k) {
			return true
		}
	}
	return false
}
