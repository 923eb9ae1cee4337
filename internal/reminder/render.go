package reminder

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"remindbot/internal/tz"
)

const messageTemplate = "🔔 📢 Reminder:\nThis is a reminder for you to %s at %s."

var (
	reLeadTo     = regexp.MustCompile(`^remind me to `)
	reLead       = regexp.MustCompile(`^remind me `)
	reRecurWords = regexp.MustCompile(`(?i)\b(every\s*day|daily|every night|every morning|every week|weekly|every\s+\d+\s+days?)\b`)
	reDayWords   = regexp.MustCompile(`(?i)\b(today|tomorrow)\b`)
	reAtClause   = regexp.MustCompile(`(?i)\bat .*$`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

// Phrase turns the user's original wording into the action phrase used in
// the delivery message: "Remind me to drink water every day at 9am"
// becomes "Drink water". It falls back to the trimmed input when nothing
// is left after cleanup.
func Phrase(original string) string {
	s := strings.ToLower(original)
	s = reLeadTo.ReplaceAllString(s, "")
	s = reLead.ReplaceAllString(s, "")
	s = reRecurWords.ReplaceAllString(s, "")
	s = reDayWords.ReplaceAllString(s, "")
	s = reAtClause.ReplaceAllString(s, "")
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	// "remind me every week to call mom" leaves "to call mom".
	s = strings.TrimPrefix(s, "to ")
	if s == "" {
		return strings.TrimSpace(original)
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// Render composes the delivery message for a reminder scheduled at the
// given instant, with the time shown in the owner's zone.
func Render(original string, at time.Time, zone string) string {
	clock, err := tz.Format(at, zone, "hh:mm A")
	if err != nil {
		clock = at.UTC().Format("03:04 PM") + " UTC"
	}
	return fmt.Sprintf(messageTemplate, Phrase(original), clock)
}
