// Package aggregate derives the cross-platform totals of a user from their
// latest snapshots. Everything here is pure: the same snapshots and day always
// produce the same TotalStats regardless of input order.
package aggregate

import (
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers/extract"
	"slices"
	"strings"
	"time"
)

// Recompute folds snapshots into TotalStats, today is a time.DateOnly day used
// for TodayCount and CurrentStreak.
func Recompute(userID string, snapshots []profile.Snapshot, today string) profile.TotalStats {
	stats := profile.TotalStats{
		UserID:            userID,
		PerPlatformRating: []profile.PlatformRating{},
		UnifiedActivity:   []profile.ActivityEntry{},
		EstimatedActivity: []profile.ActivityEntry{},
	}

	unified := map[string]int{}
	estimated := map[string]int{}
	for _, s := range latestPerPlatform(snapshots) {
		stats.TotalQuestions += s.TotalSolved
		stats.EasySolved += s.EasySolved
		stats.MediumSolved += s.MediumSolved
		stats.HardSolved += s.HardSolved
		stats.TotalContests += s.ContestsParticipated

		if s.Rating > 0 {
			stats.PerPlatformRating = append(stats.PerPlatformRating, profile.PlatformRating{
				Platform:  s.Platform,
				Rating:    s.Rating,
				MaxRating: max(s.MaxRating, s.Rating),
			})
		}

		target := unified
		if s.SyntheticActivity {
			target = estimated
		}
		for _, e := range extract.Normalize(s.Activity) {
			target[e.Date] += e.Count
		}
	}

	slices.SortFunc(stats.PerPlatformRating, func(a, b profile.PlatformRating) int {
		return strings.Compare(string(a.Platform), string(b.Platform))
	})
	stats.UnifiedActivity = extract.FromCounts(unified)
	stats.EstimatedActivity = extract.FromCounts(estimated)

	stats.TodayCount = unified[today]
	stats.ActiveDays = len(stats.UnifiedActivity)
	stats.CurrentStreak = currentStreak(unified, today)
	stats.LongestStreak = longestStreak(stats.UnifiedActivity)

	return stats
}

// WithClock binds Recompute to the current day of clock, in the shape the
// store expects.
func WithClock(clock chrono.API) func(userID string, snapshots []profile.Snapshot) profile.TotalStats {
	return func(userID string, snapshots []profile.Snapshot) profile.TotalStats {
		return Recompute(userID, snapshots, chrono.Today(clock))
	}
}

// latestPerPlatform keeps one snapshot per platform, the one fetched last.
func latestPerPlatform(snapshots []profile.Snapshot) []profile.Snapshot {
	latest := map[profile.Platform]profile.Snapshot{}
	for _, s := range snapshots {
		prev, ok := latest[s.Platform]
		if !ok || newer(s, prev) {
			latest[s.Platform] = s
		}
	}

	out := make([]profile.Snapshot, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b profile.Snapshot) int {
		return strings.Compare(string(a.Platform), string(b.Platform))
	})
	return out
}

// newer orders snapshots of the same platform, ties on FetchedAt fall back to
// the handle and solved count so that the choice does not depend on input order.
func newer(a, b profile.Snapshot) bool {
	if !a.FetchedAt.Equal(b.FetchedAt) {
		return a.FetchedAt.After(b.FetchedAt)
	}
	if a.Handle != b.Handle {
		return a.Handle > b.Handle
	}
	return a.TotalSolved > b.TotalSolved
}

func shiftDay(day string, delta int) (string, bool) {
	t, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return "", false
	}
	return t.AddDate(0, 0, delta).Format(time.DateOnly), true
}

// currentStreak counts consecutive active days ending today, or ending
// yesterday if nothing was submitted yet today.
func currentStreak(active map[string]int, today string) int {
	day := today
	if active[day] <= 0 {
		yesterday, ok := shiftDay(today, -1)
		if !ok || active[yesterday] <= 0 {
			return 0
		}
		day = yesterday
	}

	streak := 0
	for active[day] > 0 {
		streak++
		prev, ok := shiftDay(day, -1)
		if !ok {
			break
		}
		day = prev
	}
	return streak
}

// longestStreak expects activity sorted by date.
func longestStreak(activity []profile.ActivityEntry) int {
	longest := 0
	run := 0
	prev := ""
	for _, e := range activity {
		next, ok := shiftDay(prev, 1)
		if ok && next == e.Date {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
		prev = e.Date
	}
	return longest
}
