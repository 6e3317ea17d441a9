package profile

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	for input, expected := range map[string]Platform{
		"leetcode":       LeetCode,
		" GeeksForGeeks": GFG,
		"CF":             Codeforces,
		"codechef":       CodeChef,
		"HackerRank":     HackerRank,
	} {
		p, err := ParsePlatform(input)
		require.NoError(t, err, input)
		require.Equal(t, expected, p)
	}

	_, err := ParsePlatform("topcoder")
	require.Error(t, err)
}

func TestVerificationStatus(t *testing.T) {
	var none *VerificationRecord
	require.Equal(t, StatusNone, none.Status(DefaultMaxAttempts))

	rec := &VerificationRecord{Attempts: 2}
	require.Equal(t, StatusPending, rec.Status(DefaultMaxAttempts))

	rec.Attempts = DefaultMaxAttempts
	require.Equal(t, StatusFailed, rec.Status(DefaultMaxAttempts))

	rec.Verified = true
	require.Equal(t, StatusVerified, rec.Status(DefaultMaxAttempts))
}

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("extract: %w", NotFound(Codeforces, "tourist"))
	require.Equal(t, KindProfileNotFound, KindOf(wrapped))
	require.False(t, IsRetryable(wrapped))
	require.Contains(t, wrapped.Error(), "Codeforces")
	require.Contains(t, wrapped.Error(), "tourist")

	require.True(t, IsRetryable(fmt.Errorf("load: %w", context.DeadlineExceeded)))
	require.True(t, IsRetryable(NewError(KindBrowserCrash, GFG, "x", nil)))
	require.False(t, IsRetryable(UnexpectedMarkup(CodeChef, "x", nil)))
	require.False(t, IsRetryable(NewError(KindMaxAttemptsExceeded, LeetCode, "x", nil)))
	require.Equal(t, KindUnknown, KindOf(fmt.Errorf("plain")))
}

func TestFromStatus(t *testing.T) {
	require.NoError(t, FromStatus(LeetCode, "a", http.StatusOK, nil))
	require.Equal(t, KindProfileNotFound, KindOf(FromStatus(LeetCode, "a", http.StatusNotFound, nil)))
	require.Equal(t, KindBlockedOrRateLimited, KindOf(FromStatus(LeetCode, "a", http.StatusTooManyRequests, nil)))
	require.Equal(t, KindBlockedOrRateLimited, KindOf(FromStatus(LeetCode, "a", http.StatusBadGateway, nil)))
	require.Equal(t, KindUnexpectedMarkup, KindOf(FromStatus(LeetCode, "a", http.StatusBadRequest, nil)))
}

func TestSetRawSkipsZero(t *testing.T) {
	s := Snapshot{}
	s.SetRaw("country", "")
	s.SetRaw("ranking", 0)
	require.Nil(t, s.RawFields)

	s.SetRaw("ranking", 42)
	require.Equal(t, map[string]any{"ranking": 42}, s.RawFields)
}
