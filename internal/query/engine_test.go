package query

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"env-dashboard/internal/latest"
	"env-dashboard/internal/reading"
	"env-dashboard/internal/store"
)

const devices = 4

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Engine, *latest.Index) {
	t.Helper()
	st := store.NewMemory()
	ix := latest.New(st, devices, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewEngine(st, ix), ix
}

func commit(t *testing.T, ix *latest.Index, device int, at time.Time, temp float64) reading.Reading {
	t.Helper()
	r, err := ix.Commit(context.Background(), reading.Reading{
		DeviceID: device, Temperature: temp, Pressure: 1000, Humidity: 50, ReadingDate: at,
	}, nil)
	require.NoError(t, err)
	return r
}

func TestRecentOneReturnsJustInserted(t *testing.T) {
	e, ix := setup(t)
	for i := 0; i < 3; i++ {
		stored := commit(t, ix, 1, t0, float64(i)) // stejný čas, vyhrává poslední vložení
		recent, err := e.Recent(context.Background(), 1, 1)
		require.NoError(t, err)
		require.Equal(t, []reading.Reading{stored}, recent)
	}
}

func TestRecentReturnsKNewestDescending(t *testing.T) {
	e, ix := setup(t)
	for i := 0; i < 6; i++ {
		commit(t, ix, 2, t0.Add(time.Duration(i)*time.Minute), float64(i))
	}
	for k := 1; k <= 6; k++ {
		recent, err := e.Recent(context.Background(), 2, k)
		require.NoError(t, err)
		require.Len(t, recent, k)
		for i, r := range recent {
			require.Equal(t, float64(5-i), r.Temperature)
		}
	}

	recent, err := e.Recent(context.Background(), 2, 100)
	require.NoError(t, err)
	require.Len(t, recent, 6)
}

func TestUnknownDeviceIsEmpty(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()

	recent, err := e.Recent(ctx, 99, 1)
	require.NoError(t, err)
	require.NotNil(t, recent)
	require.Empty(t, recent)

	all, err := e.All(ctx, -1)
	require.NoError(t, err)
	require.Empty(t, all)

	found, err := e.DeleteDevice(ctx, 99)
	require.NoError(t, err)
	require.False(t, found)
}

func TestLatestAllAlwaysHasEveryDevice(t *testing.T) {
	e, ix := setup(t)
	commit(t, ix, 1, t0, 10)
	commit(t, ix, 1, t0.Add(time.Minute), 11)
	commit(t, ix, 3, t0, 30)

	entries := e.LatestAll()
	require.Len(t, entries, devices)
	for i, en := range entries {
		require.Equal(t, i, en.DeviceID)
	}
	require.Nil(t, entries[0].Reading)
	require.Equal(t, 11.0, entries[1].Reading.Temperature)
	require.Equal(t, 30.0, entries[3].Reading.Temperature)

	b, err := json.Marshal(entries)
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, map[string]any{"deviceId": 0.0}, raw[0])
	require.Contains(t, raw[1], "temperature")
	require.Contains(t, raw[1], "readingDate")
}

func TestDeleteAllThenLatestAllIsPlaceholders(t *testing.T) {
	e, ix := setup(t)
	for d := 0; d < devices; d++ {
		commit(t, ix, d, t0, 1)
	}
	require.NoError(t, e.DeleteAll(context.Background()))

	entries := e.LatestAll()
	require.Len(t, entries, devices)
	b, err := json.Marshal(entries)
	require.NoError(t, err)
	require.JSONEq(t, `[{"deviceId":0},{"deviceId":1},{"deviceId":2},{"deviceId":3}]`, string(b))
}

func TestDeleteDeviceFoundThenNotFound(t *testing.T) {
	e, ix := setup(t)
	ctx := context.Background()
	commit(t, ix, 2, t0, 1)
	commit(t, ix, 2, t0.Add(time.Second), 2)

	found, err := e.DeleteDevice(ctx, 2)
	require.NoError(t, err)
	require.True(t, found)

	all, err := e.All(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Nil(t, e.LatestAll()[2].Reading)

	found, err = e.DeleteDevice(ctx, 2)
	require.NoError(t, err)
	require.False(t, found)
}

func TestConcurrentInsertsForTwoDevices(t *testing.T) {
	e, ix := setup(t)
	const n = 100
	var wg sync.WaitGroup
	for _, d := range []int{0, 1} {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				_, err := ix.Commit(context.Background(), reading.Reading{
					DeviceID: d, Temperature: float64(d*1000 + i), ReadingDate: t0.Add(time.Duration(i) * time.Second),
				}, nil)
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(d)
	}
	wg.Wait()

	for _, d := range []int{0, 1} {
		all, err := e.All(context.Background(), d)
		require.NoError(t, err)
		require.Len(t, all, n)
		for _, r := range all {
			require.Equal(t, d, r.DeviceID)
			require.GreaterOrEqual(t, r.Temperature, float64(d*1000))
			require.Less(t, r.Temperature, float64(d*1000+n))
		}
		require.Equal(t, float64(d*1000+n-1), e.LatestAll()[d].Reading.Temperature)
	}
}

func TestHistory(t *testing.T) {
	e, ix := setup(t)
	now := t0.Add(48 * time.Hour)
	e.now = func() time.Time { return now }

	commit(t, ix, 1, now.Add(-30*time.Hour), 1)
	commit(t, ix, 1, now.Add(-2*time.Hour), 2)
	commit(t, ix, 1, now.Add(-1*time.Hour), 3)

	got, err := e.History(context.Background(), 1, "24h")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 2.0, got[0].Temperature)
	require.Equal(t, 3.0, got[1].Temperature)

	got, err = e.History(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = e.History(context.Background(), 1, "yesterday")
	require.True(t, reading.IsValidation(err))
	_, err = e.History(context.Background(), 1, "-1h")
	require.True(t, reading.IsValidation(err))
}
