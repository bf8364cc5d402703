// Package time holds small duration-formatting helpers used by the run recap.
package time

import (
	"strings"
	"time"
)

// ShortDur shortens the string representation of a time.Duration from
// d.String(), dropping trailing zero units (e.g. "1h0m" -> "1h").
func ShortDur(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = s[:len(s)-2]
	}
	if strings.HasSuffix(s, "h0m") {
		s = s[:len(s)-2]
	}
	return s
}

// Humanize rounds sub-second durations for display: everything below one
// second is shown in whole milliseconds, everything above to the nearest
// tenth of a second.
func Humanize(d time.Duration) string {
	if d < time.Second {
		return ShortDur(d.Round(time.Millisecond))
	}
	return ShortDur(d.Round(100 * time.Millisecond))
}
