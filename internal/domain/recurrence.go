package domain

import (
	"fmt"
	"strings"
	"time"
)

type RecurrenceKind string

const (
	RecurNone     RecurrenceKind = ""
	RecurDaily    RecurrenceKind = "daily"
	RecurWeekly   RecurrenceKind = "weekly"
	RecurInterval RecurrenceKind = "interval"
)

// Recurrence is a closed variant: none, daily, weekly or interval(N days).
// Interval is only meaningful for RecurInterval. The zero value is none.
type Recurrence struct {
	Kind     RecurrenceKind
	Interval int
}

func None() Recurrence   { return Recurrence{} }
func Daily() Recurrence  { return Recurrence{Kind: RecurDaily} }
func Weekly() Recurrence { return Recurrence{Kind: RecurWeekly} }

func EveryNDays(n int) Recurrence { return Recurrence{Kind: RecurInterval, Interval: n} }

func (r Recurrence) IsNone() bool { return r.Kind == RecurNone }

// ParseRecurrence maps the persisted {type, interval_value?} pair. Empty and
// "none" both decode to None.
func ParseRecurrence(kind string, interval int) (Recurrence, error) {
	switch RecurrenceKind(strings.ToLower(strings.TrimSpace(kind))) {
	case RecurNone, "none":
		return None(), nil
	case RecurDaily:
		return Daily(), nil
	case RecurWeekly:
		return Weekly(), nil
	case RecurInterval:
		r := EveryNDays(interval)
		return r, r.Validate()
	default:
		return None(), fmt.Errorf("%w: unknown type %q", ErrInvalidRecurrence, kind)
	}
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case RecurNone, RecurDaily, RecurWeekly:
		return nil
	case RecurInterval:
		if r.Interval < 1 {
			return fmt.Errorf("%w: interval must be >= 1, got %d", ErrInvalidRecurrence, r.Interval)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecurrence, string(r.Kind))
	}
}

// Days is the step between occurrences (0 for none).
func (r Recurrence) Days() int {
	switch r.Kind {
	case RecurDaily:
		return 1
	case RecurWeekly:
		return 7
	case RecurInterval:
		return r.Interval
	default:
		return 0
	}
}

// Next returns the occurrence after last, computed on UTC calendar fields and
// truncated to the whole minute. ok is false when the rule has no successor.
func (r Recurrence) Next(last time.Time) (next time.Time, ok bool, err error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, false, err
	}
	days := r.Days()
	if days == 0 {
		return time.Time{}, false, nil
	}
	next = last.UTC().AddDate(0, 0, days).Truncate(time.Minute)
	return next, true, nil
}

func (r Recurrence) String() string {
	switch r.Kind {
	case RecurNone:
		return "none"
	case RecurDaily:
		return "daily"
	case RecurWeekly:
		return "weekly"
	case RecurInterval:
		if r.Interval == 1 {
			return "every day"
		}
		return fmt.Sprintf("every %d days", r.Interval)
	default:
		return string(r.Kind)
	}
}
