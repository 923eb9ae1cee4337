// Package domain holds the reminder bot's core records and the recurrence
// calculator. It has no dependencies on storage or transport.
package domain

import (
	"strings"
	"time"
)

type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

// ParsePlatform accepts the persisted platform names (case-insensitive).
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformTelegram:
		return PlatformTelegram, true
	case PlatformWhatsApp:
		return PlatformWhatsApp, true
	default:
		return "", false
	}
}

func (p Platform) Valid() bool {
	_, ok := ParsePlatform(string(p))
	return ok
}

// User is identified by (Platform, Address). Timezone is empty until the
// user configures it with /timezone.
type User struct {
	ID        string
	Platform  Platform
	Address   string
	Name      string
	Timezone  string
	CreatedAt time.Time
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Reminder is one scheduled delivery. ScheduledAt is always UTC.
//
// ParentID links a recurrence successor to the reminder it was generated
// from; it is empty for reminders created by ingestion.
type Reminder struct {
	ID           string
	UserID       string
	Text         string
	OriginalText string
	ScheduledAt  time.Time
	Status       Status
	Recurrence   Recurrence
	CreatedAt    time.Time
	ParentID     string
}

// DueReminder is a pending reminder joined with the owner fields the
// scheduler needs. Empty owner fields mean the join found nothing usable.
type DueReminder struct {
	Reminder
	Platform Platform
	Address  string
	Timezone string
}

// Successor builds the pending reminder that follows r at the given instant.
func (r Reminder) Successor(at, now time.Time) Reminder {
	return Reminder{
		UserID:       r.UserID,
		Text:         r.Text,
		OriginalText: r.OriginalText,
		ScheduledAt:  at.UTC(),
		Status:       StatusPending,
		Recurrence:   r.Recurrence,
		CreatedAt:    now.UTC(),
		ParentID:     r.ID,
	}
}
