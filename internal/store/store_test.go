package store

import (
	"codefolio-backend/internal/profile"
	"codefolio-backend/lib/testutil"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) *SQLStore {
	t.Helper()
	res := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "store",
		DbSchema: Schema,
		Now:      now,
	})
	return NewSQLStore(res.DB, res.Clock)
}

func sumSolved(userID string, snapshots []profile.Snapshot) profile.TotalStats {
	stats := profile.TotalStats{UserID: userID}
	for _, s := range snapshots {
		stats.TotalQuestions += s.TotalSolved
	}
	return stats
}

func TestVerificationRoundTrip(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.GetVerification(ctx, "alice", profile.Codeforces)
	require.ErrorIs(t, err, ErrNotFound)

	record := profile.VerificationRecord{
		UserID:     "alice",
		Platform:   profile.Codeforces,
		ProfileURL: "https://codeforces.com/profile/tourist",
		Handle:     "tourist",
		Code:       "AB12CD",
		Attempts:   1,
		CreatedAt:  now,
	}
	require.NoError(t, s.UpsertVerification(ctx, record))

	got, err := s.GetVerification(ctx, "alice", profile.Codeforces)
	require.NoError(t, err)
	if diff := cmp.Diff(record, got); diff != "" {
		t.Fatal(diff)
	}

	verifiedAt := now.Add(time.Minute)
	record.Verified = true
	record.Attempts = 2
	record.VerifiedAt = &verifiedAt
	require.NoError(t, s.UpsertVerification(ctx, record))

	verified, err := s.ListVerified(ctx)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	require.Equal(t, 2, verified[0].Attempts)
	require.True(t, verified[0].VerifiedAt.Equal(verifiedAt))

	require.NoError(t, s.DeleteVerification(ctx, "alice", profile.Codeforces))
	_, err = s.GetVerification(ctx, "alice", profile.Codeforces)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotUpsertIsLastWriterWins(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	first := profile.Snapshot{
		Platform:    profile.LeetCode,
		Handle:      "neal_wu",
		TotalSolved: 10,
		Activity:    []profile.ActivityEntry{{Date: "2024-05-31", Count: 2}},
		RawFields:   map[string]any{"streak": 3},
		FetchedAt:   now,
		RawText:     "not persisted",
	}
	require.NoError(t, s.UpsertSnapshot(ctx, "alice", first))

	second := first
	second.TotalSolved = 12
	second.FetchedAt = now.Add(time.Hour)
	require.NoError(t, s.UpsertSnapshot(ctx, "alice", second))

	got, err := s.GetSnapshot(ctx, "alice", profile.LeetCode)
	require.NoError(t, err)
	require.Equal(t, 12, got.TotalSolved)
	require.Empty(t, got.RawText)
	require.Equal(t, first.Activity, got.Activity)
	// numbers in raw fields come back as json numbers
	require.EqualValues(t, 3, got.RawFields["streak"])

	list, err := s.ListSnapshots(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteSnapshot(ctx, "alice", profile.LeetCode))
	_, err = s.GetSnapshot(ctx, "alice", profile.LeetCode)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyScrapeAndRemoval(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	record := &profile.VerificationRecord{
		UserID:    "alice",
		Platform:  profile.Codeforces,
		Handle:    "tourist",
		Code:      "AB12CD",
		Attempts:  1,
		CreatedAt: now,
	}
	require.NoError(t, s.UpsertVerification(ctx, *record))
	require.NoError(t, s.UpsertVerification(ctx, profile.VerificationRecord{
		UserID:    "alice",
		Platform:  profile.LeetCode,
		Handle:    "neal",
		Code:      "ZZ99ZZ",
		Verified:  true,
		CreatedAt: now,
	}))

	record.Verified = true
	stats, err := s.ApplyScrape(ctx, "alice", profile.Snapshot{
		Platform: profile.Codeforces, Handle: "tourist", TotalSolved: 100, FetchedAt: now,
	}, record, sumSolved)
	require.NoError(t, err)
	require.Equal(t, 100, stats.TotalQuestions)

	stats, err = s.ApplyScrape(ctx, "alice", profile.Snapshot{
		Platform: profile.LeetCode, Handle: "neal", TotalSolved: 50, FetchedAt: now,
	}, nil, sumSolved)
	require.NoError(t, err)
	require.Equal(t, 150, stats.TotalQuestions)

	stored, err := s.GetTotalStats(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, stats, stored)

	got, err := s.GetVerification(ctx, "alice", profile.Codeforces)
	require.NoError(t, err)
	require.True(t, got.Verified)

	stats, err = s.ApplyRemoval(ctx, "alice", profile.Codeforces, sumSolved)
	require.NoError(t, err)
	require.Equal(t, 50, stats.TotalQuestions)
	_, err = s.GetVerification(ctx, "alice", profile.Codeforces)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyScrapeWritesNothingOnError(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	_, err := s.ApplyScrape(canceled, "alice", profile.Snapshot{
		Platform: profile.GFG, Handle: "geek", FetchedAt: now,
	}, nil, sumSolved)
	require.True(t, errors.Is(err, context.Canceled), err)

	_, err = s.GetSnapshot(ctx, "alice", profile.GFG)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTotalStats(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyScrapeRequiresVerifiedPlatform(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	snapshot := profile.Snapshot{Platform: profile.GFG, Handle: "geek", TotalSolved: 5, FetchedAt: now}
	_, err := s.ApplyScrape(ctx, "alice", snapshot, nil, sumSolved)
	require.ErrorIs(t, err, ErrNotVerified)

	// a pending record is not enough
	require.NoError(t, s.UpsertVerification(ctx, profile.VerificationRecord{
		UserID: "alice", Platform: profile.GFG, Handle: "geek", Code: "AB12CD", CreatedAt: now,
	}))
	_, err = s.ApplyScrape(ctx, "alice", snapshot, nil, sumSolved)
	require.ErrorIs(t, err, ErrNotVerified)

	_, err = s.GetSnapshot(ctx, "alice", profile.GFG)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTotalStats(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyScrapeRejectsReplacedCode(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertVerification(ctx, profile.VerificationRecord{
		UserID: "alice", Platform: profile.Codeforces, Handle: "tourist", Code: "NEW999", CreatedAt: now,
	}))

	verifiedAt := now.Add(time.Minute)
	_, err := s.ApplyScrape(ctx, "alice", profile.Snapshot{
		Platform: profile.Codeforces, Handle: "tourist", TotalSolved: 100, FetchedAt: now,
	}, &profile.VerificationRecord{
		UserID:     "alice",
		Platform:   profile.Codeforces,
		Handle:     "tourist",
		Code:       "OLD111",
		Verified:   true,
		VerifiedAt: &verifiedAt,
		CreatedAt:  now,
	}, sumSolved)
	require.ErrorIs(t, err, ErrCodeChanged)

	got, err := s.GetVerification(ctx, "alice", profile.Codeforces)
	require.NoError(t, err)
	require.False(t, got.Verified)
	require.Equal(t, "NEW999", got.Code)
	_, err = s.GetSnapshot(ctx, "alice", profile.Codeforces)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setup(t)
	require.NoError(t, Migrate(context.Background(), s.db))
	require.NoError(t, Migrate(context.Background(), s.db))
}
