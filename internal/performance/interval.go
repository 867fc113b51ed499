package performance

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrIntervalFormat is returned for interval strings that cannot be parsed.
var ErrIntervalFormat = errors.New("performance: invalid interval")

var intervalUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'M': 30 * 24 * time.Hour,
}

// ParseInterval converts strings like 10s, 5m, 4h, 1d, 1w or 1M into a
// duration. A month is 30 days.
func ParseInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrIntervalFormat, s)
	}
	unit, ok := intervalUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: %q has an unknown unit", ErrIntervalFormat, s)
	}
	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrIntervalFormat, s)
	}
	d := time.Duration(n * float64(unit))
	if d < time.Second {
		return 0, fmt.Errorf("%w: %q is shorter than a second", ErrIntervalFormat, s)
	}
	return d, nil
}

// ExtraIntervals is how many whole intervals before the current one are
// recomputed, so late fills still land in their bucket.
func ExtraIntervals(interval time.Duration) int {
	switch {
	case interval <= time.Minute:
		return 5
	case interval <= 24*time.Hour:
		return 2
	default:
		return 1
	}
}

// Bucket floors t to a multiple of interval since the Unix epoch.
func Bucket(t time.Time, interval time.Duration) time.Time {
	sec := int64(interval / time.Second)
	unix := t.Unix()
	floored := unix - mod(unix, sec)
	return time.Unix(floored, 0).UTC()
}

// WindowStart is the first bucket recomputed at now.
func WindowStart(now time.Time, interval time.Duration) time.Time {
	return Bucket(now, interval).Add(-time.Duration(ExtraIntervals(interval)) * interval)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
