package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatClock(t *testing.T) {
	cases := map[int64]string{
		0:      "00:00:00",
		59:     "00:00:59",
		61:     "00:01:01",
		3600:   "01:00:00",
		18000:  "05:00:00",
		90061:  "25:01:01",
		360000: "100:00:00",
		-5:     "00:00:00",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatClock(in), "FormatClock(%d)", in)
	}
}

func TestClockRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, 59, 60, 3599, 3600, 86399, 86400, 1_000_000} {
		got, err := ParseClock(FormatClock(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestParseClockRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "1:2", "aa:bb:cc", "00:60:00", "00:00:-1"} {
		_, err := ParseClock(in)
		assert.Error(t, err, in)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"90":       90,
		"00:01:30": 90,
		"1m30s":    90,
		"2h":       7200,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAmount("")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount("1.5s")
	assert.Error(t, err)
	_, err = ParseAmount("soon")
	assert.Error(t, err)
}
