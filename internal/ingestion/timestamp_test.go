package ingestion

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestampValid(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"7/9/2019 0:00", time.Date(2019, 7, 9, 0, 0, 0, 0, time.UTC)},
		{"07/09/2019 06:25", time.Date(2019, 7, 9, 6, 25, 0, 0, time.UTC)},
		{"12/31/2024 23:59", time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)},
		{"  2/29/2024 1:05  ", time.Date(2024, 2, 29, 1, 5, 0, 0, time.UTC)},
		{"1/1/2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimestamp(tc.in, time.UTC)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseTimestampUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*60*60)
	got, err := ParseTimestamp("7/9/2019 7:00", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2019, 7, 9, 0, 0, 0, 0, time.UTC)))
}

func TestParseTimestampRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"13/1/2024 0:00",
		"0/1/2024 0:00",
		"2/30/2024 0:00",
		"2/29/2023 0:00",
		"4/31/2024 0:00",
		"1/x/2024 0:00",
		"1/1/24 0:00",
		"1/1/2024 24:00",
		"1/1/2024 0:60",
		"1/1/2024 0:00:00",
		"1/1/2024 :30",
		"2024-01-01 00:00",
		"1/1/2024/5 0:00",
		"-1/1/2024 0:00",
	}

	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTimestamp(in, time.UTC)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTimestamp))
		})
	}
}

func TestParseTimestampRejectsDSTGap(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	_, err = ParseTimestamp("3/10/2024 2:30", loc)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	got, err := ParseTimestamp("3/10/2024 3:30", loc)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Hour())

	// The repeated hour in November is ambiguous but exists.
	_, err = ParseTimestamp("11/3/2024 1:30", loc)
	assert.NoError(t, err)
}
