// Package tz converts between a user's wall clock in an IANA zone and UTC
// instants.
//
// Ambiguous local times are resolved once, at creation time:
//   - a wall time inside a spring-forward gap does not exist and is rejected
//     with domain.ErrInvalidDateTime
//   - a wall time inside a fall-back repeated hour resolves to the earlier
//     (pre-transition) instant
package tz

import (
	"fmt"
	"strings"
	"time"

	"github.com/nleeper/goment"

	"remindbot/internal/domain"
)

// Load resolves an IANA zone name. "Local" and the empty name are rejected;
// the server's zone must never leak into user scheduling.
func Load(zone string) (*time.Location, error) {
	name := strings.TrimSpace(zone)
	if name == "" || strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidZone, zone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidZone, zone)
	}
	return loc, nil
}

// Valid reports whether zone is a loadable IANA identifier.
func Valid(zone string) bool {
	_, err := Load(zone)
	return err == nil
}

// ToUTC interprets the fields as wall-clock time in zone and returns the UTC
// instant. Fields are never clamped or normalized.
func ToUTC(year, month, day, hour, minute int, zone string) (time.Time, error) {
	loc, err := Load(zone)
	if err != nil {
		return time.Time{}, err
	}
	if month < 1 || month > 12 || day < 1 || day > 31 ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d", domain.ErrInvalidDateTime, year, month, day, hour, minute)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	// time.Date normalizes overflowing days and shifts wall times that fall
	// into a DST gap; either shows up as a field mismatch.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d does not exist in %s",
			domain.ErrInvalidDateTime, year, month, day, hour, minute, loc)
	}
	return earliest(t).UTC(), nil
}

// earliest returns the first instant showing t's wall clock. time.Date picks
// either side of a fall-back overlap depending on the zone, so try the
// offset in effect a day earlier as well.
func earliest(t time.Time) time.Time {
	_, offAt := t.Zone()
	_, offBefore := t.Add(-24 * time.Hour).Zone()
	d := time.Duration(offBefore-offAt) * time.Second
	if d <= 0 {
		return t
	}
	alt := t.Add(-d)
	if alt.Year() == t.Year() && alt.YearDay() == t.YearDay() &&
		alt.Hour() == t.Hour() && alt.Minute() == t.Minute() {
		return alt
	}
	return t
}

// WallClock returns the calendar fields of instant in zone.
func WallClock(instant time.Time, zone string) (year, month, day, hour, minute int, err error) {
	loc, err := Load(zone)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	t := instant.In(loc)
	return t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), nil
}

// Format renders instant in zone with a moment-style pattern, for example
// "hh:mm A" or "ddd, MMM D".
func Format(instant time.Time, zone, pattern string) (string, error) {
	loc, err := Load(zone)
	if err != nil {
		return "", err
	}
	g, err := goment.New(instant.In(loc))
	if err != nil {
		return "", fmt.Errorf("format %s: %w", instant, err)
	}
	return g.Format(pattern), nil
}
