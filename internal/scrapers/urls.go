package scrapers

import (
	"codefolio-backend/internal/profile"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidProfileURL = errors.New("invalid profile url")

const handlePattern = `([A-Za-z0-9_.\-]+)`

var profileURLPatterns = map[profile.Platform]*regexp.Regexp{
	profile.LeetCode:   regexp.MustCompile(`^https?://(?:www\.)?leetcode\.com/(?:u/)?` + handlePattern + `/?$`),
	profile.Codeforces: regexp.MustCompile(`^https?://(?:www\.)?codeforces\.com/profile/` + handlePattern + `/?$`),
	profile.GFG:        regexp.MustCompile(`^https?://(?:auth\.|www\.)?geeksforgeeks\.org/(?:user|profile)/` + handlePattern + `/?$`),
	profile.CodeChef:   regexp.MustCompile(`^https?://(?:www\.)?codechef\.com/users/` + handlePattern + `/?$`),
	profile.HackerRank: regexp.MustCompile(`^https?://(?:www\.)?hackerrank\.com/(?:profile/)?` + handlePattern + `/?$`),
}

var bareHandle = regexp.MustCompile(`^` + handlePattern + `$`)

// ParseProfileURL extracts the handle from a profile url of the given platform.
func ParseProfileURL(platform profile.Platform, rawUrl string) (string, error) {
	pattern, ok := profileURLPatterns[platform]
	if !ok {
		return "", fmt.Errorf("%w: unsupported platform %q", ErrInvalidProfileURL, platform)
	}
	rawUrl = strings.TrimSpace(rawUrl)
	// query strings and fragments never carry the handle
	if i := strings.IndexAny(rawUrl, "?#"); i >= 0 {
		rawUrl = rawUrl[:i]
	}
	match := pattern.FindStringSubmatch(rawUrl)
	if match == nil {
		return "", fmt.Errorf("%w: %q is not a %s profile url", ErrInvalidProfileURL, rawUrl, platform.Title())
	}
	handle := match[1]
	if platform == profile.LeetCode && handle == "u" {
		return "", fmt.Errorf("%w: %q has no handle", ErrInvalidProfileURL, rawUrl)
	}
	return handle, nil
}

// ResolveHandle accepts either a profile url or a bare handle.
func ResolveHandle(platform profile.Platform, input string) (string, error) {
	input = strings.TrimSpace(input)
	if bareHandle.MatchString(input) {
		return input, nil
	}
	return ParseProfileURL(platform, input)
}

// ProfileURL is the canonical public profile url of a handle.
func ProfileURL(platform profile.Platform, handle string) string {
	switch platform {
	case profile.LeetCode:
		return "https://leetcode.com/u/" + handle + "/"
	case profile.Codeforces:
		return "https://codeforces.com/profile/" + handle
	case profile.GFG:
		return "https://www.geeksforgeeks.org/user/" + handle + "/"
	case profile.CodeChef:
		return "https://www.codechef.com/users/" + handle
	case profile.HackerRank:
		return "https://www.hackerrank.com/profile/" + handle
	}
	return ""
}

// WithCacheBust appends ts=value to a url.
func WithCacheBust(rawUrl, value string) string {
	if value == "" {
		return rawUrl
	}
	sep := "?"
	if strings.Contains(rawUrl, "?") {
		sep = "&"
	}
	return rawUrl + sep + "ts=" + value
}
