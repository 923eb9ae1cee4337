package storage

import (
	"context"
	"time"

	"remindbot/internal/domain"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a pgx connection string
//   - "memory": nothing is persisted
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

// ReminderStore is the persistence contract the scheduler engine and the
// ingestion pipeline depend on.
type ReminderStore interface {
	// FindDue returns pending reminders with ScheduledAt in [start, end],
	// joined with their owner's platform, address and timezone.
	FindDue(ctx context.Context, start, end time.Time) ([]domain.DueReminder, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// Create assigns an id when r.ID is empty and returns it.
	Create(ctx context.Context, r domain.Reminder) (string, error)
	// ListPending returns a user's pending reminders, earliest first.
	ListPending(ctx context.Context, userID string, limit int) ([]domain.Reminder, error)
}

// UserStore holds the user fields the bot needs.
type UserStore interface {
	// FindOrCreateUser returns the user for (platform, address), creating it
	// on first contact. created reports whether a row was inserted.
	FindOrCreateUser(ctx context.Context, platform domain.Platform, address, name string) (u domain.User, created bool, err error)
	SetTimezone(ctx context.Context, userID, zone string) error
}

type Store interface {
	ReminderStore
	UserStore
	Close() error
}
