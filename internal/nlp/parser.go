// Package nlp extracts a reminder intent (time of day and recurrence) from
// free text.
package nlp

import (
	"context"
	"time"

	"remindbot/internal/domain"
)

// Intent is the structured result of parsing a reminder request. Hour and
// Minute are wall-clock fields in the user's zone.
type Intent struct {
	Hour           int
	Minute         int
	Recurrence     domain.Recurrence
	ConfidenceText string
}

// Parser finds an actionable time in text. ok is false when there is none;
// err is reserved for malformed requests (for example "every 0 days") and
// collaborator failures.
type Parser interface {
	ParseIntent(ctx context.Context, text string, ref time.Time) (in Intent, ok bool, err error)
}
