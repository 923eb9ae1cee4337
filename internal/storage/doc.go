// Package storage persists users and reminders.
//
// Drivers:
//   - "sqlite": embedded database file (modernc.org/sqlite, pure Go)
//   - "postgres": server database through pgx's database/sql driver
//   - "memory": process-local maps, for dry runs and tests
//
// The scheduler polls FindDue every tick; both SQL drivers index
// reminders on (status, scheduled_at). Instants are stored as UTC unix
// milliseconds so the same queries serve both dialects.
package storage
