package commands

import (
	"codefolio-backend/internal/orchestrator"
	"codefolio-backend/internal/profile"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
)

var stdout io.Writer = os.Stdout

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(stdout)
	return t
}

func printJson(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(out))
	return err
}

func renderSnapshot(s profile.Snapshot) {
	t := newTable()
	t.SetTitle(fmt.Sprintf("%s: %s", s.Platform.Title(), s.Handle))
	t.AppendHeader(table.Row{"Name", "Rating", "Max", "Solved", "Easy", "Medium", "Hard", "Contests"})
	t.AppendRow(table.Row{
		s.DisplayName,
		s.Rating,
		s.MaxRating,
		s.TotalSolved,
		s.EasySolved,
		s.MediumSolved,
		s.HardSolved,
		s.ContestsParticipated,
	})
	if len(s.Badges) > 0 {
		t.AppendFooter(table.Row{"Badges", strings.Join(s.Badges, ", ")})
	}
	if s.SyntheticActivity {
		t.AppendFooter(table.Row{"Activity", "estimated"})
	}
	t.Render()
}

func renderTotals(stats profile.TotalStats) {
	t := newTable()
	t.SetTitle(fmt.Sprintf("Totals: %s", stats.UserID))
	t.AppendHeader(table.Row{"Solved", "Easy", "Medium", "Hard", "Contests", "Today", "Active days", "Streak", "Longest"})
	t.AppendRow(table.Row{
		stats.TotalQuestions,
		stats.EasySolved,
		stats.MediumSolved,
		stats.HardSolved,
		stats.TotalContests,
		stats.TodayCount,
		stats.ActiveDays,
		stats.CurrentStreak,
		stats.LongestStreak,
	})
	t.Render()

	if len(stats.PerPlatformRating) == 0 {
		return
	}
	ratings := newTable()
	ratings.AppendHeader(table.Row{"Platform", "Rating", "Max"})
	for _, r := range stats.PerPlatformRating {
		ratings.AppendRow(table.Row{r.Platform.Title(), r.Rating, r.MaxRating})
	}
	ratings.Render()
}

func renderRefresh(report orchestrator.RefreshReport) {
	fmt.Fprintf(stdout, "refreshed %d of %d profiles\n", report.Succeeded, report.Jobs)
	if len(report.Failures) == 0 {
		return
	}
	t := newTable()
	t.AppendHeader(table.Row{"Job", "User", "Platform", "Error"})
	for _, f := range report.Failures {
		t.AppendRow(table.Row{f.JobID, f.UserID, f.Platform.Title(), f.Err.Error()})
	}
	t.Render()
}
