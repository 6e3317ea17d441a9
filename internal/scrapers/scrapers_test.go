package scrapers

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/profile"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProfileURL(t *testing.T) {
	cases := []struct {
		platform profile.Platform
		url      string
		handle   string
	}{
		{profile.LeetCode, "https://leetcode.com/u/neal_wu/", "neal_wu"},
		{profile.LeetCode, "http://www.leetcode.com/neal_wu", "neal_wu"},
		{profile.Codeforces, "https://codeforces.com/profile/tourist", "tourist"},
		{profile.Codeforces, "https://codeforces.com/profile/tourist?locale=en", "tourist"},
		{profile.GFG, "https://auth.geeksforgeeks.org/user/geek.one/", "geek.one"},
		{profile.GFG, "https://www.geeksforgeeks.org/profile/geek-two", "geek-two"},
		{profile.CodeChef, "https://www.codechef.com/users/chef_1", "chef_1"},
		{profile.HackerRank, "https://www.hackerrank.com/profile/hacker", "hacker"},
		{profile.HackerRank, "https://hackerrank.com/hacker/", "hacker"},
	}
	for _, c := range cases {
		handle, err := ParseProfileURL(c.platform, c.url)
		require.NoError(t, err, c.url)
		require.Equal(t, c.handle, handle, c.url)
	}

	invalid := []struct {
		platform profile.Platform
		url      string
	}{
		{profile.Codeforces, "https://leetcode.com/u/neal_wu"},
		{profile.Codeforces, "https://codeforces.com/contest/1"},
		{profile.LeetCode, "https://leetcode.com/u/"},
		{profile.CodeChef, "codechef.com/users/chef"},
		{profile.GFG, "https://evil.com/geeksforgeeks.org/user/x"},
	}
	for _, c := range invalid {
		_, err := ParseProfileURL(c.platform, c.url)
		require.ErrorIs(t, err, ErrInvalidProfileURL, c.url)
	}
}

func TestProfileURLRoundTrip(t *testing.T) {
	for _, p := range profile.Platforms {
		handle, err := ParseProfileURL(p, ProfileURL(p, "someone_1"))
		require.NoError(t, err, p)
		require.Equal(t, "someone_1", handle, p)
	}
}

func TestResolveHandle(t *testing.T) {
	handle, err := ResolveHandle(profile.Codeforces, " tourist ")
	require.NoError(t, err)
	require.Equal(t, "tourist", handle)

	handle, err = ResolveHandle(profile.Codeforces, "https://codeforces.com/profile/Petr")
	require.NoError(t, err)
	require.Equal(t, "Petr", handle)

	_, err = ResolveHandle(profile.Codeforces, "not a handle")
	require.Error(t, err)
}

func TestWithCacheBust(t *testing.T) {
	require.Equal(t, "https://a.org/u/x?ts=1", WithCacheBust("https://a.org/u/x", "1"))
	require.Equal(t, "https://a.org/u/x?tab=1&ts=2", WithCacheBust("https://a.org/u/x?tab=1", "2"))
	require.Equal(t, "https://a.org/u/x", WithCacheBust("https://a.org/u/x", ""))
}

func TestClassifyFetchError(t *testing.T) {
	cases := []struct {
		err  error
		kind profile.ErrorKind
	}{
		{&fetch.StatusError{Code: 404}, profile.KindProfileNotFound},
		{fmt.Errorf("wrapped: %w", &fetch.StatusError{Code: 429}), profile.KindBlockedOrRateLimited},
		{&fetch.StatusError{Code: 503}, profile.KindBlockedOrRateLimited},
		{&fetch.DecodeError{URL: "x", Err: errors.New("eof")}, profile.KindUnexpectedMarkup},
		{&fetch.GraphQLError{Messages: []string{"That user does not exist."}}, profile.KindProfileNotFound},
		{fmt.Errorf("get: %w", context.DeadlineExceeded), profile.KindTimeout},
		{profile.NotFound(profile.LeetCode, "x"), profile.KindProfileNotFound},
	}
	for _, c := range cases {
		got := ClassifyFetchError(profile.LeetCode, "x", c.err)
		require.Equal(t, c.kind, profile.KindOf(got), c.err.Error())
	}

	require.ErrorIs(t, ClassifyFetchError(profile.LeetCode, "x", context.Canceled), context.Canceled)
	require.NoError(t, ClassifyFetchError(profile.LeetCode, "x", nil))
}

func TestClassifyPageError(t *testing.T) {
	crashed := &browser.PageLoadFailure{URL: "u", Reason: "browser crashed", Attempts: 3, Crashed: true}
	require.Equal(t, profile.KindBrowserCrash, profile.KindOf(ClassifyPageError(profile.GFG, "x", crashed)))

	slow := &browser.PageLoadFailure{URL: "u", Reason: "timed out", Attempts: 3}
	require.Equal(t, profile.KindTimeout, profile.KindOf(ClassifyPageError(profile.GFG, "x", slow)))

	require.Equal(t, profile.KindBrowserCrash, profile.KindOf(ClassifyPageError(profile.GFG, "x", browser.ErrStaleHandle)))
	require.True(t, profile.IsRetryable(ClassifyPageError(profile.GFG, "x", ErrNoBrowser)))
}
