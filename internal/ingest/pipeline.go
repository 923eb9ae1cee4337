// Package ingest turns inbound chat messages into reminders and answers the
// bot's text commands (/timezone, /list, /start, /help).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/nlp"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/tz"
	logx "remindbot/pkg/logx"
)

const listLimit = 10

var (
	reTomorrow = regexp.MustCompile(`(?i)\btomorrow\b`)
	reGreeting = regexp.MustCompile(`(?i)\b(hi|hello|hey|namaste|start)\b`)
)

// Inbound is one text message from a chat platform.
type Inbound struct {
	Platform domain.Platform
	Address  string
	Name     string
	Text     string
	// SentAt is the platform's own message timestamp. When zero the
	// pipeline's clock is used as the date anchor.
	SentAt time.Time
}

type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	users     storage.UserStore
	reminders storage.ReminderStore
	parser    nlp.Parser
	log       logx.Logger
	now       func() time.Time
}

func New(users storage.UserStore, reminders storage.ReminderStore, parser nlp.Parser, log logx.Logger, opts ...Option) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	if parser == nil {
		parser = nlp.RuleParser{}
	}
	p := &Pipeline{users: users, reminders: reminders, parser: parser, log: log, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle processes one inbound message and returns the reply to send back.
// A non-nil error is for logging only; the reply is still meant for the
// user.
func (p *Pipeline) Handle(ctx context.Context, in Inbound) (string, error) {
	if !in.Platform.Valid() || strings.TrimSpace(in.Address) == "" {
		return "", fmt.Errorf("ingest: invalid sender %q/%q", in.Platform, in.Address)
	}
	text := strings.TrimSpace(in.Text)
	log := p.log.With(logx.String("platform", string(in.Platform)), logx.String("address", in.Address))

	u, created, err := p.users.FindOrCreateUser(ctx, in.Platform, in.Address, in.Name)
	if err != nil {
		log.Error("user lookup failed", logx.Err(err))
		return msgError, fmt.Errorf("find user: %w", err)
	}
	if created {
		log.Info("new user", logx.String("user", u.ID), logx.String("name", in.Name))
	}
	log = log.With(logx.String("user", u.ID))

	if name, arg, ok := parseCommand(text); ok {
		switch name {
		case "timezone", "tz":
			return p.setTimezone(ctx, log, u, arg)
		case "list":
			return p.list(ctx, log, u)
		case "start", "help":
			return msgGreeting + "\n\n" + msgUsage, nil
		default:
			return msgUsage, nil
		}
	}
	return p.schedule(ctx, log, u, text, in.SentAt)
}

// parseCommand splits "/name@bot arg..." into a lower-case name and the
// remaining text.
func parseCommand(text string) (name, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	name = strings.ToLower(strings.TrimPrefix(head, "/"))
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(rest), true
}

func (p *Pipeline) setTimezone(ctx context.Context, log logx.Logger, u domain.User, arg string) (string, error) {
	if arg == "" {
		if u.Timezone == "" {
			return msgZoneUnset, nil
		}
		return fmt.Sprintf(msgZoneCurrent, u.Timezone), nil
	}
	loc, err := tz.Load(arg)
	if err != nil {
		return fmt.Sprintf(msgBadZone, arg), nil
	}
	zone := loc.String()
	if err := p.users.SetTimezone(ctx, u.ID, zone); err != nil {
		log.Error("set timezone failed", logx.String("zone", zone), logx.Err(err))
		return msgError, fmt.Errorf("set timezone: %w", err)
	}
	log.Info("timezone set", logx.String("zone", zone))
	return fmt.Sprintf(msgZoneSet, zone), nil
}

func (p *Pipeline) list(ctx context.Context, log logx.Logger, u domain.User) (string, error) {
	rs, err := p.reminders.ListPending(ctx, u.ID, listLimit)
	if err != nil {
		log.Error("list reminders failed", logx.Err(err))
		return msgError, fmt.Errorf("list reminders: %w", err)
	}
	if len(rs) == 0 {
		return msgNoPending, nil
	}
	zone := u.Timezone
	if !tz.Valid(zone) {
		zone = "UTC"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Upcoming reminders (%s):", zone)
	for i, r := range rs {
		when, err := tz.Format(r.ScheduledAt, zone, "ddd, MMM D hh:mm A")
		if err != nil {
			when = r.ScheduledAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "\n%d. %s - %s", i+1, when, r.Text)
		if !r.Recurrence.IsNone() {
			fmt.Fprintf(&b, " (%s)", r.Recurrence)
		}
	}
	return b.String(), nil
}

func (p *Pipeline) schedule(ctx context.Context, log logx.Logger, u domain.User, text string, sentAt time.Time) (string, error) {
	ref := sentAt
	if ref.IsZero() {
		ref = p.now()
	}
	ref = ref.UTC()

	intent, ok, err := p.parser.ParseIntent(ctx, text, ref)
	switch {
	case errors.Is(err, domain.ErrInvalidRecurrence):
		return msgBadRecurrence, nil
	case err != nil:
		log.Error("intent parser failed", logx.Err(err))
		return msgError, fmt.Errorf("parse intent: %w", err)
	case !ok:
		if reGreeting.MatchString(text) {
			return msgGreeting, nil
		}
		return msgNoTime, nil
	}
	if u.Timezone == "" {
		return msgNeedTimezone, nil
	}

	at, reply := resolve(intent, text, ref, u.Timezone)
	if reply != "" {
		log.Debug("reminder not scheduled", logx.String("reason", reply))
		return reply, nil
	}

	id, err := p.reminders.Create(ctx, domain.Reminder{
		UserID:       u.ID,
		Text:         reminder.Phrase(text),
		OriginalText: text,
		ScheduledAt:  at,
		Status:       domain.StatusPending,
		Recurrence:   intent.Recurrence,
		CreatedAt:    p.now().UTC(),
	})
	if errors.Is(err, domain.ErrInvalidRecurrence) {
		return msgBadRecurrence, nil
	}
	if err != nil {
		log.Error("create reminder failed", logx.Err(err))
		return msgError, fmt.Errorf("create reminder: %w", err)
	}
	log.Info("reminder created",
		logx.String("id", id),
		logx.Time("scheduled_at", at),
		logx.String("recurrence", intent.Recurrence.String()),
	)
	return confirmation(at, u.Timezone, intent), nil
}

// resolve anchors the intent's wall-clock time on the reference date in
// zone. A non-empty reply means the reminder must not be created.
func resolve(intent nlp.Intent, text string, ref time.Time, zone string) (time.Time, string) {
	y, mo, d, _, _, err := tz.WallClock(ref, zone)
	if err != nil {
		return time.Time{}, msgStoredZoneBad
	}
	if reTomorrow.MatchString(text) {
		next := time.Date(y, time.Month(mo), d+1, 0, 0, 0, 0, time.UTC)
		y, mo, d = next.Year(), int(next.Month()), next.Day()
	}
	at, err := tz.ToUTC(y, mo, d, intent.Hour, intent.Minute, zone)
	switch {
	case errors.Is(err, domain.ErrInvalidDateTime):
		return time.Time{}, fmt.Sprintf(msgBadTime, zone)
	case err != nil:
		return time.Time{}, msgStoredZoneBad
	}
	if at.After(ref) {
		return at, ""
	}
	if intent.Recurrence.IsNone() {
		return time.Time{}, msgPast
	}
	// A recurring reminder starts at its first occurrence after ref.
	for !at.After(ref) {
		if at, _, err = intent.Recurrence.Next(at); err != nil {
			return time.Time{}, msgBadRecurrence
		}
	}
	return at, ""
}

func confirmation(at time.Time, zone string, intent nlp.Intent) string {
	day, _ := tz.Format(at, zone, "ddd, MMM D")
	clock, _ := tz.Format(at, zone, "hh:mm A")
	repeat := ""
	if !intent.Recurrence.IsNone() {
		repeat = ", repeating " + intent.Recurrence.String()
	}
	out := fmt.Sprintf(msgConfirm, day, clock, zone, repeat)
	if intent.ConfidenceText != "" {
		out += "\n" + intent.ConfidenceText
	}
	return out
}
