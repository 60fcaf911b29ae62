package domain

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time in seconds since midnight, with no date or zone.
type TimeOfDay int

var timeOfDayLayouts = []string{"15:04:05", "15:04"}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
}

// TimeOfDayOf extracts the wall-clock part of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// String formats as HH:MM:SS.
func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

// NormalizeHour rewrites an optional hour as HH:MM:SS, which is how stores
// hand it back. Nil and empty stay nil.
func NormalizeHour(h *string) (*string, error) {
	if h == nil || *h == "" {
		return nil, nil
	}
	t, err := ParseTimeOfDay(*h)
	if err != nil {
		return nil, err
	}
	s := t.String()
	return &s, nil
}

// IsClosed returns 1 when a place with the given hours is closed at the query
// time and 0 when it is open. A place missing either hour is always open.
//
// Both ends of the span are inclusive. A span whose close is earlier than its
// open wraps past midnight; equal open and close means open around the clock.
func IsClosed(openHour, closeHour *string, at TimeOfDay) (int, error) {
	if openHour == nil || closeHour == nil || *openHour == "" || *closeHour == "" {
		return 0, nil
	}
	open, err := ParseTimeOfDay(*openHour)
	if err != nil {
		return 0, fmt.Errorf("open hour: %w", err)
	}
	closing, err := ParseTimeOfDay(*closeHour)
	if err != nil {
		return 0, fmt.Errorf("close hour: %w", err)
	}
	if isOpenAt(open, closing, at) {
		return 0, nil
	}
	return 1, nil
}

func isOpenAt(open, closing, at TimeOfDay) bool {
	switch {
	case open == closing:
		return true
	case open < closing:
		return at >= open && at <= closing
	default:
		return at >= open || at <= closing
	}
}
