package nlp

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/domain"
)

var (
	re12h      = regexp.MustCompile(`(?i)\b(\d{1,2})(?:[:.](\d{2}))?\s*(a\.?m\.?|p\.?m\.?)(?:\W|$)`)
	re24h      = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	reAtHour   = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})\b`)
	reNoon     = regexp.MustCompile(`(?i)\bnoon\b`)
	reMidnight = regexp.MustCompile(`(?i)\bmidnight\b`)

	reEveryN    = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s+days?\b`)
	reEveryDay  = regexp.MustCompile(`(?i)\b(every\s*day|daily|every night|every morning)\b`)
	reEveryWeek = regexp.MustCompile(`(?i)\b(every week|weekly)\b`)
)

// RuleParser is a deterministic Parser for the phrasings the bot documents:
// "9am", "9:30 pm", "at 21:15", "at 7", "noon", "midnight", plus the
// recurrence phrases "every day", "daily", "every week", "every 3 days".
type RuleParser struct{}

func (RuleParser) ParseIntent(_ context.Context, text string, _ time.Time) (Intent, bool, error) {
	rec, err := parseRecurrence(text)
	if err != nil {
		return Intent{}, false, err
	}
	// "every 3 days" must not be read as "at 3".
	clean := reEveryN.ReplaceAllString(text, " ")

	h, m, matched, ok := parseClock(clean)
	if !ok {
		return Intent{}, false, nil
	}
	return Intent{
		Hour:           h,
		Minute:         m,
		Recurrence:     rec,
		ConfidenceText: fmt.Sprintf("Understood %q as %02d:%02d%s.", matched, h, m, describe(rec)),
	}, true, nil
}

func parseClock(s string) (hour, minute int, matched string, ok bool) {
	if g := re12h.FindStringSubmatch(s); g != nil {
		h, _ := strconv.Atoi(g[1])
		m := 0
		if g[2] != "" {
			m, _ = strconv.Atoi(g[2])
		}
		if h >= 1 && h <= 12 && m <= 59 {
			pm := strings.HasPrefix(strings.ToLower(g[3]), "p")
			h %= 12
			if pm {
				h += 12
			}
			return h, m, strings.TrimSpace(strings.TrimRight(g[0], " ,;!?.")), true
		}
	}
	if g := re24h.FindStringSubmatch(s); g != nil {
		h, _ := strconv.Atoi(g[1])
		m, _ := strconv.Atoi(g[2])
		return h, m, g[0], true
	}
	if g := reNoon.FindString(s); g != "" {
		return 12, 0, g, true
	}
	if g := reMidnight.FindString(s); g != "" {
		return 0, 0, g, true
	}
	if g := reAtHour.FindStringSubmatch(s); g != nil {
		if h, _ := strconv.Atoi(g[1]); h <= 23 {
			return h, 0, g[0], true
		}
	}
	return 0, 0, "", false
}

func parseRecurrence(s string) (domain.Recurrence, error) {
	if g := reEveryN.FindStringSubmatch(s); g != nil {
		n, err := strconv.Atoi(g[1])
		if err != nil || n < 1 {
			return domain.Recurrence{}, fmt.Errorf("%w: %q", domain.ErrInvalidRecurrence, g[0])
		}
		return domain.EveryNDays(n), nil
	}
	if reEveryDay.MatchString(s) {
		return domain.Daily(), nil
	}
	if reEveryWeek.MatchString(s) {
		return domain.Weekly(), nil
	}
	return domain.None(), nil
}

func describe(r domain.Recurrence) string {
	switch r.Kind {
	case domain.RecurDaily:
		return ", every day"
	case domain.RecurWeekly:
		return ", every week"
	case domain.RecurInterval:
		return fmt.Sprintf(", every %d days", r.Interval)
	}
	return ""
}
