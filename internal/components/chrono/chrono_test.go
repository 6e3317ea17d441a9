package chrono

import (
	"codefolio-backend/internal/components/telemetry"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStandardImplLocation(t *testing.T) {
	utc, err := NewStandardImpl("")
	require.NoError(t, err)
	require.Equal(t, time.UTC, utc.Location())

	kolkata, err := NewStandardImpl("Asia/Kolkata")
	require.NoError(t, err)
	require.Equal(t, "Asia/Kolkata", kolkata.Now().Location().String())

	_, err = NewStandardImpl("Not/AZone")
	require.Error(t, err)
}

func TestStandardSleepCancelled(t *testing.T) {
	impl, err := NewStandardImpl("")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = impl.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	fake := NewFake(start)

	require.Equal(t, "2024-01-01", Today(fake))
	require.NoError(t, fake.Sleep(context.Background(), 2*time.Minute))
	require.Equal(t, "2024-01-02", Today(fake))
	require.Equal(t, []time.Duration{2 * time.Minute}, fake.Sleeps())
}

func TestValidateCron(t *testing.T) {
	require.NoError(t, ValidateCron("0 2 * * *"))
	require.NoError(t, ValidateCron("@every 1h"))
	require.Error(t, ValidateCron("0 2 * *"))
	require.Error(t, ValidateCron("not a spec"))
}

func TestStandardCronRecoversPanics(t *testing.T) {
	rec := &telemetry.Recorder{}
	cron := NewStandardCron(rec, time.UTC)
	defer cron.Stop()

	var runs atomic.Int32
	require.NoError(t, cron.Cron("@every 1s", func() {
		runs.Add(1)
		panic("refresh blew up")
	}))
	require.False(t, cron.Next().IsZero())

	require.Eventually(t, func() bool {
		return rec.HasBroken("cron: scheduler")
	}, 5*time.Second, 50*time.Millisecond)
	require.Positive(t, runs.Load())

	require.Error(t, cron.Cron("61 * * * *", func() {}))
}
