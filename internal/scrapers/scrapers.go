package scrapers

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/profile"
	"codefolio-backend/lib/htmlutil"
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// PageLoader renders a page in a browser session, it is satisfied by
// *browser.Session.
type PageLoader interface {
	LoadPage(ctx context.Context, url string, opts browser.LoadOptions) (*browser.Page, error)
}

// Source holds the collaborators an extractor may use. Pages is nil when no
// browser is available.
type Source struct {
	Fetch *fetch.Client
	Pages PageLoader
}

// Target identifies the profile being extracted.
type Target struct {
	Handle string
	URL    string
	// Fresh bypasses any response cache.
	Fresh bool
	// CacheBust, when set, is appended to page urls as the `ts` query parameter.
	CacheBust string
}

// Extractor turns a public profile into a snapshot.
//
// Implementations hold no per-user state and may be used concurrently.
type Extractor interface {
	Platform() profile.Platform
	// NeedsBrowser reports whether the primary extraction path renders pages.
	NeedsBrowser() bool
	Extract(ctx context.Context, src Source, target Target) (profile.Snapshot, error)
}

// ErrNoBrowser is returned by browser backed extraction paths when the source
// has no page loader.
var ErrNoBrowser = errors.New("no browser session available")

// ClassifyFetchError turns a fetch client failure into a profile error.
func ClassifyFetchError(platform profile.Platform, handle string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var perr *profile.Error
	if errors.As(err, &perr) {
		return err
	}
	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		return profile.FromStatus(platform, handle, statusErr.Code, err)
	}
	var decodeErr *fetch.DecodeError
	if errors.As(err, &decodeErr) {
		return profile.UnexpectedMarkup(platform, handle, err)
	}
	var gqlErr *fetch.GraphQLError
	if errors.As(err, &gqlErr) {
		for _, msg := range gqlErr.Messages {
			if strings.Contains(strings.ToLower(msg), "does not exist") {
				return profile.NotFound(platform, handle)
			}
		}
		return profile.UnexpectedMarkup(platform, handle, err)
	}
	if profile.KindOf(err) == profile.KindTimeout {
		return profile.NewError(profile.KindTimeout, platform, handle, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return profile.Blocked(platform, handle, err)
	}
	return profile.NewError(profile.KindUnknown, platform, handle, err)
}

// ClassifyPageError turns a browser failure into a profile error.
func ClassifyPageError(platform profile.Platform, handle string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var failure *browser.PageLoadFailure
	if errors.As(err, &failure) {
		if failure.Crashed {
			return profile.NewError(profile.KindBrowserCrash, platform, handle, err)
		}
		return profile.NewError(profile.KindTimeout, platform, handle, err)
	}
	if errors.Is(err, browser.ErrStaleHandle) ||
		errors.Is(err, browser.ErrCircuitOpen) ||
		browser.IsCrash(err) {
		return profile.NewError(profile.KindBrowserCrash, platform, handle, err)
	}
	if errors.Is(err, ErrNoBrowser) {
		return profile.Blocked(platform, handle, err)
	}
	if profile.KindOf(err) == profile.KindTimeout {
		return profile.NewError(profile.KindTimeout, platform, handle, err)
	}
	return profile.NewError(profile.KindUnknown, platform, handle, err)
}

// PageText is the visible text of a loaded page, falling back to the text of
// its parsed document when the driver did not report any.
func PageText(page *browser.Page) string {
	if strings.TrimSpace(page.Text) != "" {
		return htmlutil.CleanText(page.Text)
	}
	if page.Doc == nil {
		return ""
	}
	return htmlutil.SelectionText(page.Doc.Selection)
}
