package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	ts := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "clinical:token:2026-03-07", DailyKey("clinical:token", ts))
	assert.Equal(t, "bb:2026", YearlyKey("bb", ts))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "BB-2026-10001", FormatNumber("BB", 2026, 1))
	assert.Equal(t, "AMB-2026-10042", FormatNumber("amb", 2026, 42))
	assert.Equal(t, "AMB-2026-100000", FormatNumber("AMB", 2026, 90000))
}

func TestMemorySequencer_Next(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySequencer()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Next(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := s.Next(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "keys are independent")

	cur, err := s.Current(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur)

	cur, err = s.Current(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, cur)
}

func TestMemorySequencer_EmptyKey(t *testing.T) {
	_, err := NewMemorySequencer().Next(context.Background(), "")
	assert.Error(t, err)
}

func TestMemorySequencer_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySequencer()
	seen := make(chan int64, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.Next(ctx, "k")
			if err == nil {
				seen <- n
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int64]bool{}
	for n := range seen {
		unique[n] = true
	}
	assert.Len(t, unique, 100)
}

func TestNextNumber(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySequencer()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	first, err := NextNumber(ctx, s, "AMB", now)
	require.NoError(t, err)
	second, err := NextNumber(ctx, s, "AMB", now)
	require.NoError(t, err)
	other, err := NextNumber(ctx, s, "BB", now)
	require.NoError(t, err)

	assert.Equal(t, "AMB-2026-10001", first)
	assert.Equal(t, "AMB-2026-10002", second)
	assert.Equal(t, "BB-2026-10001", other)

	next, err := NextNumber(ctx, s, "AMB", now.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "AMB-2027-10001", next, "numbering restarts each year")
}

func TestMemorySequencer_Raise(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySequencer()

	require.NoError(t, s.Raise(ctx, "a", 5))
	require.NoError(t, s.Raise(ctx, "a", 2))
	n, err := s.Next(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n, "raise never lowers a counter")
}

func TestSeeded_ContinuesAfterStoredNumbers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	var calls int
	var asked string
	maxNumber := func(_ context.Context, numberPrefix string) (int64, error) {
		calls++
		asked = numberPrefix
		return 10007, nil
	}
	s := Seeded(NewMemorySequencer(), YearlyFloor("BB", maxNumber))

	first, err := NextNumber(ctx, s, "BB", now)
	require.NoError(t, err)
	second, err := NextNumber(ctx, s, "BB", now)
	require.NoError(t, err)

	assert.Equal(t, "BB-2026-10008", first)
	assert.Equal(t, "BB-2026-10009", second)
	assert.Equal(t, "BB-2026-", asked)
	assert.Equal(t, 1, calls, "the floor is read once per key")
}

func TestSeeded_EmptyStoreStartsAtOne(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	s := Seeded(NewMemorySequencer(), YearlyFloor("AMB", func(context.Context, string) (int64, error) {
		return 0, nil
	}))

	got, err := NextNumber(ctx, s, "AMB", now)
	require.NoError(t, err)
	assert.Equal(t, "AMB-2026-10001", got)
}

func TestSeeded_DailyFloor(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	var day time.Time
	s := Seeded(NewMemorySequencer(), DailyFloor(func(_ context.Context, d time.Time) (int64, error) {
		day = d
		return 12, nil
	}))

	key := DailyKey("clinical:token", now)
	cur, err := s.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(12), cur)

	n, err := s.Next(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)
	assert.Equal(t, "2026-10-18", day.Format("2006-01-02"))
}

func TestSeeded_FloorError(t *testing.T) {
	ctx := context.Background()
	s := Seeded(NewMemorySequencer(), func(context.Context, string) (int64, error) {
		return 0, assert.AnError
	})

	_, err := s.Next(ctx, "bb:2026")
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.Next(ctx, "bad")
	require.Error(t, err, "a failed seed is retried on the next call")
}
