package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekStart(t *testing.T) {
	cases := map[string]struct {
		now  time.Time
		want time.Time
	}{
		"wednesday": {
			now:  time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC),
			want: time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		},
		"monday midnight": {
			now:  time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		},
		"sunday late": {
			now:  time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		},
		"across month": {
			now:  time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, WeekStart(tc.now).Equal(tc.want), "got %v", WeekStart(tc.now))
		})
	}
}

func TestWeekStartKeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	got := WeekStart(time.Date(2026, 10, 14, 1, 0, 0, 0, loc))
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, time.Monday, got.Weekday())
	assert.Equal(t, 0, got.Hour())
}

func TestParseHorizon(t *testing.T) {
	d, err := ParseHorizon("14 D")
	require.NoError(t, err)
	assert.Equal(t, 14*Day, d)

	d, err = ParseHorizon(" 1 D ")
	require.NoError(t, err)
	assert.Equal(t, Day, d)

	for _, bad := range []string{"", "14", "14 H", "14D", "x D", "0 D", "-3 D", "1 D extra"} {
		_, err := ParseHorizon(bad)
		assert.ErrorIs(t, err, ErrBadHorizon, "input %q", bad)
	}
}

func TestFormatHorizon(t *testing.T) {
	assert.Equal(t, "7 D", FormatHorizon(7*Day))
}

func TestHumanFormats(t *testing.T) {
	ts := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "Monday, January 5", HumanDate(ts))
	assert.Equal(t, "02:30 PM", HumanHour(ts))
}
