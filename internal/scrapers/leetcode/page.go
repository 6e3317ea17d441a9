package leetcode

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/scrapers/extract"
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
)

var pageOptions = browser.LoadOptions{
	ExpectedDomain:   "leetcode.com",
	SuccessSelectors: []string{"script#__NEXT_DATA__", "div.text-label-1"},
	ErrorTexts:       []string{"this page doesn't exist", "user does not exist"},
}

var (
	calendarPattern     = regexp.MustCompile(`"?submissionCalendar"?\s*:\s*"((?:[^"\\]|\\.)*)"`)
	acSubmissionPattern = regexp.MustCompile(`"?acSubmissionNum"?\s*:\s*(\[[^\]]*\])`)
	streakPattern       = regexp.MustCompile(`"?streak"?\s*:\s*(\d+)`)
	activeDaysPattern   = regexp.MustCompile(`"?totalActiveDays"?\s*:\s*(\d+)`)
)

var nameRules = []extract.Rule{
	{Field: "name", Selectors: []string{"div.text-label-1.break-all", "div.text-label-1"}},
}

func scriptText(doc *goquery.Document) string {
	var out strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if strings.Contains(text, "submissionCalendar") || strings.Contains(text, "acSubmissionNum") {
			out.WriteString(text)
			out.WriteByte('\n')
		}
	})
	return out.String()
}

func matchInt(pattern *regexp.Regexp, text string) int {
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return 0
	}
	n, _ := strconv.Atoi(match[1])
	return n
}

// parseScripts reads the profile data leetcode embeds into its page scripts.
func parseScripts(scripts string) (extract.Buckets, []profile.ActivityEntry, error) {
	var b extract.Buckets
	var activity []profile.ActivityEntry
	found := false

	if match := acSubmissionPattern.FindStringSubmatch(scripts); match != nil {
		var counts []difficultyCount
		err := json.Unmarshal([]byte(match[1]), &counts)
		if err != nil {
			return b, nil, err
		}
		b = buckets(counts)
		found = true
	}
	if match := calendarPattern.FindStringSubmatch(scripts); match != nil {
		raw, err := strconv.Unquote(`"` + match[1] + `"`)
		if err != nil {
			return b, nil, err
		}
		activity, err = parseCalendar(raw)
		if err != nil {
			return b, nil, err
		}
		found = true
	}
	if !found {
		return b, nil, errors.New("no embedded profile data")
	}
	return b, activity, nil
}

func (e *Extractor) extractPage(ctx context.Context, pages scrapers.PageLoader, target scrapers.Target) (profile.Snapshot, error) {
	url := scrapers.WithCacheBust(e.opts.SiteBase+"/u/"+target.Handle+"/", target.CacheBust)
	page, err := pages.LoadPage(ctx, url, pageOptions)
	if err != nil {
		return profile.Snapshot{}, scrapers.ClassifyPageError(profile.LeetCode, target.Handle, err)
	}
	if page.ErrorMarker {
		return profile.Snapshot{}, profile.NotFound(profile.LeetCode, target.Handle)
	}

	scripts := scriptText(page.Doc)
	b, activity, err := parseScripts(scripts)
	if err != nil {
		return profile.Snapshot{}, profile.UnexpectedMarkup(profile.LeetCode, target.Handle, err)
	}

	values, _ := extract.Evaluate(page.Doc, page.Text, nameRules)
	displayName := values.String("name")
	if displayName == "" {
		displayName = target.Handle
	}

	snapshot := profile.Snapshot{
		Platform:     profile.LeetCode,
		Handle:       target.Handle,
		DisplayName:  displayName,
		TotalSolved:  b.Total(),
		EasySolved:   b.Easy,
		MediumSolved: b.Medium,
		HardSolved:   b.Hard,
		Activity:     activity,
		FetchedAt:    e.clock.Now(),
		RawText:      page.Text,
	}
	snapshot.SetRaw("streak", matchInt(streakPattern, scripts))
	snapshot.SetRaw("totalActiveDays", matchInt(activeDaysPattern, scripts))
	snapshot.SetRaw("source", "page")
	return snapshot, nil
}
