package extract

import (
	"codefolio-backend/internal/profile"
	"slices"
	"strings"
	"time"
)

// Normalize merges entries with the same date, drops non-positive counts and
// entries with malformed dates and sorts by date.
func Normalize(entries []profile.ActivityEntry) []profile.ActivityEntry {
	counts := map[string]int{}
	for _, e := range entries {
		date := strings.TrimSpace(e.Date)
		if e.Count <= 0 {
			continue
		}
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			continue
		}
		counts[date] += e.Count
	}
	return FromCounts(counts)
}

// FromCounts turns a date -> count map into a sorted activity list.
func FromCounts(counts map[string]int) []profile.ActivityEntry {
	out := make([]profile.ActivityEntry, 0, len(counts))
	for date, count := range counts {
		if count <= 0 {
			continue
		}
		out = append(out, profile.ActivityEntry{Date: date, Count: count})
	}
	slices.SortFunc(out, func(a, b profile.ActivityEntry) int {
		return strings.Compare(a.Date, b.Date)
	})
	return out
}

// BucketUnix counts unix second timestamps per calendar day in loc.
func BucketUnix(timestamps []int64, loc *time.Location) []profile.ActivityEntry {
	counts := map[string]int{}
	for _, ts := range timestamps {
		date := time.Unix(ts, 0).In(loc).Format(time.DateOnly)
		counts[date]++
	}
	return FromCounts(counts)
}

// BucketUnixCounts is BucketUnix for pre-aggregated timestamp -> count data.
func BucketUnixCounts(counts map[int64]int, loc *time.Location) []profile.ActivityEntry {
	days := map[string]int{}
	for ts, count := range counts {
		date := time.Unix(ts, 0).In(loc).Format(time.DateOnly)
		days[date] += count
	}
	return FromCounts(days)
}
