package timeframe

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDelta(t *testing.T) {
	d, err := Delta("H4")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, d)

	_, err = Delta("H7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTimeframe))
	assert.Contains(t, err.Error(), "H7")
}

func TestHasClosedEqualTimesIsFalse(t *testing.T) {
	ts := at("2024-03-05 13:37:00")
	for _, tf := range All() {
		closed, err := HasClosed(ts, ts, tf)
		require.NoError(t, err)
		assert.False(t, closed, tf)
	}
}

func TestHasClosed(t *testing.T) {
	testCases := []struct {
		name string
		prev string
		curr string
		tf   Timeframe
		want bool
	}{
		{"full duration elapsed", "2024-03-05 10:00:00", "2024-03-05 14:00:00", H4, true},
		{"h4 boundary crossed early", "2024-03-05 11:59:00", "2024-03-05 12:00:30", H4, true},
		{"h4 no boundary", "2024-03-05 12:10:00", "2024-03-05 13:00:00", H4, false},
		{"h1 hour changed", "2024-03-05 12:59:59", "2024-03-05 13:00:00", H1, true},
		{"h1 same hour", "2024-03-05 12:00:00", "2024-03-05 12:59:00", H1, false},
		{"d1 date changed", "2024-03-05 23:59:00", "2024-03-06 00:00:01", D1, true},
		{"d1 same date", "2024-03-05 00:00:00", "2024-03-05 23:59:00", D1, false},
		{"m30 boundary", "2024-03-05 12:29:00", "2024-03-05 12:30:00", M30, true},
		{"m15 not aligned", "2024-03-05 12:15:00", "2024-03-05 12:16:00", M15, false},
		{"m5 boundary", "2024-03-05 12:04:59", "2024-03-05 12:05:00", M5, true},
		{"m1 minute changed", "2024-03-05 12:04:59", "2024-03-05 12:05:00", M1, true},
		{"m1 same minute", "2024-03-05 12:04:01", "2024-03-05 12:04:59", M1, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := HasClosed(at(tc.prev), at(tc.curr), tc.tf)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHasClosedErrors(t *testing.T) {
	_, err := HasClosed(time.Time{}, at("2024-03-05 12:00:00"), H1)
	assert.True(t, errors.Is(err, ErrMissingTime))

	_, err = HasClosed(at("2024-03-05 12:00:00"), at("2024-03-05 11:00:00"), H1)
	assert.True(t, errors.Is(err, ErrCausality))

	_, err = HasClosed(at("2024-03-05 12:00:00"), at("2024-03-05 12:30:00"), Timeframe("W1"))
	assert.True(t, errors.Is(err, ErrUnknownTimeframe))
}

func TestCleanBoundary(t *testing.T) {
	ts := at("2024-03-05 14:47:33")
	want := map[Timeframe]string{
		M1:  "2024-03-05 14:47:00",
		M5:  "2024-03-05 14:45:00",
		M15: "2024-03-05 14:45:00",
		M30: "2024-03-05 14:30:00",
		H1:  "2024-03-05 14:00:00",
		H4:  "2024-03-05 12:00:00",
		D1:  "2024-03-05 00:00:00",
	}
	for tf, w := range want {
		got, err := CleanBoundary(ts, tf)
		require.NoError(t, err)
		assert.Equal(t, at(w), got, tf)
	}
}

func TestCleanBoundaryIdempotent(t *testing.T) {
	samples := []time.Time{
		at("2024-01-01 00:00:00"),
		at("2024-02-29 23:59:59"),
		at("2024-03-05 03:07:41"),
		at("2024-12-31 16:31:00"),
	}
	for _, tf := range All() {
		for _, s := range samples {
			once := MustClean(s, tf)
			assert.Equal(t, once, MustClean(once, tf), "%s %s", tf, s)
		}
	}
}
