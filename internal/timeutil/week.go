package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const Day = 24 * time.Hour

var ErrBadHorizon = errors.New("horizon must look like \"<days> D\"")

// WeekStart returns Monday 00:00 of the week containing now, in now's location.
func WeekStart(now time.Time) time.Time {
	offset := (int(now.Weekday()) + 6) % 7 // Monday = 0
	y, m, d := now.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, now.Location())
}

// ParseHorizon parses the "<integer> D" format used by commands, e.g. "14 D".
func ParseHorizon(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), " ")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: got %q", ErrBadHorizon, s)
	}
	if parts[1] != "D" {
		return 0, fmt.Errorf("%w: unsupported unit %q", ErrBadHorizon, parts[1])
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bad day count %q", ErrBadHorizon, parts[0])
	}
	return time.Duration(n) * Day, nil
}

func FormatHorizon(d time.Duration) string {
	return fmt.Sprintf("%d D", int64(d/Day))
}

// HumanDate renders t as "Monday, January 2".
func HumanDate(t time.Time) string { return t.Format("Monday, January 2") }

// HumanHour renders t as "02:30 PM".
func HumanHour(t time.Time) string { return t.Format("03:04 PM") }
