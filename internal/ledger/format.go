package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatClock renders seconds as HH:MM:SS. Hours are not wrapped at 24.
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hrs := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hrs, mins, secs)
}

// ParseClock is the inverse of FormatClock.
func ParseClock(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock value %q: want HH:MM:SS", s)
	}

	var vals [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid clock value %q", s)
		}
		if i > 0 && v > 59 {
			return 0, fmt.Errorf("invalid clock value %q: field out of range", s)
		}
		vals[i] = v
	}
	return vals[0]*3600 + vals[1]*60 + vals[2], nil
}

// ParseAmount accepts plain seconds ("90"), a clock value ("00:01:30") or a
// Go duration ("1m30s").
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	if strings.Contains(s, ":") {
		return ParseClock(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if d%time.Second != 0 {
		return 0, fmt.Errorf("invalid amount %q: fractional seconds", s)
	}
	return int64(d / time.Second), nil
}
