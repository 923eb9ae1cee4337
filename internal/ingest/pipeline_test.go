package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const chat = "1001"

func newPipeline(t *testing.T, zone string) (*Pipeline, *storage.Memory) {
	t.Helper()
	st := storage.NewMemory()
	if zone != "" {
		u, _, err := st.FindOrCreateUser(context.Background(), domain.PlatformTelegram, chat, "Asha")
		if err != nil {
			t.Fatal(err)
		}
		if err := st.SetTimezone(context.Background(), u.ID, zone); err != nil {
			t.Fatal(err)
		}
	}
	clock := func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return New(st, st, nil, logx.Nop(), WithClock(clock)), st
}

func msg(text string, sentAt time.Time) Inbound {
	return Inbound{Platform: domain.PlatformTelegram, Address: chat, Name: "Asha", Text: text, SentAt: sentAt}
}

func handle(t *testing.T, p *Pipeline, in Inbound) string {
	t.Helper()
	reply, err := p.Handle(context.Background(), in)
	if err != nil {
		t.Fatalf("Handle(%q) error: %v", in.Text, err)
	}
	return reply
}

func TestScheduleAnchorsOnMessageTimestamp(t *testing.T) {
	p, st := newPipeline(t, "Asia/Kolkata")
	sent := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC) // 08:30 IST

	reply := handle(t, p, msg("Remind me to drink water every day at 9am", sent))
	want := "✅ Reminder set for Sat, Jun 1 at 09:00 AM (Asia/Kolkata), repeating daily.\nUnderstood \"9am\" as 09:00, every day."
	if reply != want {
		t.Fatalf("reply = %q, want %q", reply, want)
	}
	rs := st.Reminders()
	if len(rs) != 1 {
		t.Fatalf("reminders = %+v", rs)
	}
	r := rs[0]
	if !r.ScheduledAt.Equal(time.Date(2024, 6, 1, 3, 30, 0, 0, time.UTC)) || r.Status != domain.StatusPending || r.Recurrence != domain.Daily() {
		t.Fatalf("reminder = %+v", r)
	}
	if r.Text != "Drink water" || r.OriginalText != "Remind me to drink water every day at 9am" || r.ParentID != "" {
		t.Fatalf("reminder text = %+v", r)
	}
}

func TestScheduleTomorrowUsesLocalDate(t *testing.T) {
	p, st := newPipeline(t, "Asia/Kolkata")
	// 20:00Z is already 01:30 on Jun 2 in Kolkata.
	sent := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	handle(t, p, msg("call mom tomorrow at 9:30 pm", sent))
	rs := st.Reminders()
	if len(rs) != 1 || !rs[0].ScheduledAt.Equal(time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC)) {
		t.Fatalf("reminders = %+v", rs)
	}
}

func TestScheduleTomorrowCrossesMonth(t *testing.T) {
	p, st := newPipeline(t, "Europe/London")
	sent := time.Date(2024, 6, 30, 18, 0, 0, 0, time.UTC)
	handle(t, p, msg("Remind me tomorrow at 07:15 to run", sent))
	rs := st.Reminders()
	if len(rs) != 1 || !rs[0].ScheduledAt.Equal(time.Date(2024, 7, 1, 6, 15, 0, 0, time.UTC)) {
		t.Fatalf("reminders = %+v", rs)
	}
}

func TestScheduleFallsBackToClock(t *testing.T) {
	p, st := newPipeline(t, "UTC")
	handle(t, p, msg("standup at 10:00", time.Time{}))
	rs := st.Reminders()
	if len(rs) != 1 || !rs[0].ScheduledAt.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("reminders = %+v", rs)
	}
}

func TestSchedulePastTime(t *testing.T) {
	p, st := newPipeline(t, "Asia/Kolkata")
	sent := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC) // 08:30 IST

	if reply := handle(t, p, msg("stretch at 8am", sent)); reply != msgPast {
		t.Fatalf("reply = %q", reply)
	}
	if len(st.Reminders()) != 0 {
		t.Fatalf("past one-off reminder was created")
	}

	handle(t, p, msg("stretch every day at 8am", sent))
	rs := st.Reminders()
	if len(rs) != 1 || !rs[0].ScheduledAt.Equal(time.Date(2024, 6, 2, 2, 30, 0, 0, time.UTC)) {
		t.Fatalf("recurring reminder = %+v", rs)
	}
}

func TestScheduleSpringForwardGap(t *testing.T) {
	p, st := newPipeline(t, "America/New_York")
	sent := time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC) // midnight EST
	reply := handle(t, p, msg("feed the cat at 2:30am", sent))
	if !strings.Contains(reply, "does not exist") || len(st.Reminders()) != 0 {
		t.Fatalf("reply = %q, reminders = %d", reply, len(st.Reminders()))
	}
}

func TestScheduleRequiresTimezone(t *testing.T) {
	p, st := newPipeline(t, "")
	if reply := handle(t, p, msg("Remind me at 9am", time.Time{})); reply != msgNeedTimezone {
		t.Fatalf("reply = %q", reply)
	}
	if len(st.Reminders()) != 0 {
		t.Fatalf("reminder created without timezone")
	}
	u, created, _ := st.FindOrCreateUser(context.Background(), domain.PlatformTelegram, chat, "")
	if created || u.Name != "Asha" {
		t.Fatalf("user not created on first contact: %+v", u)
	}
}

func TestNoTimeReplies(t *testing.T) {
	p, _ := newPipeline(t, "UTC")
	tests := []struct{ text, want string }{
		{"hi there", msgGreeting},
		{"Hello!", msgGreeting},
		{"this is nothing", msgNoTime},
		{"remind me to call mom", msgNoTime},
		{"stretch every 0 days at 8am", msgBadRecurrence},
	}
	for _, tt := range tests {
		if got := handle(t, p, msg(tt.text, time.Time{})); got != tt.want {
			t.Errorf("%q: reply = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestTimezoneCommand(t *testing.T) {
	p, st := newPipeline(t, "")

	if got := handle(t, p, msg("/timezone", time.Time{})); got != msgZoneUnset {
		t.Fatalf("reply = %q", got)
	}
	if got := handle(t, p, msg("/timezone Mars/Olympus", time.Time{})); !strings.Contains(got, `"Mars/Olympus"`) {
		t.Fatalf("reply = %q", got)
	}
	if got := handle(t, p, msg("/timezone@remind_bot  Asia/Kolkata ", time.Time{})); got != "✅ Timezone set to Asia/Kolkata." {
		t.Fatalf("reply = %q", got)
	}
	if got := handle(t, p, msg("/TIMEZONE", time.Time{})); got != "Your timezone is Asia/Kolkata. Change it with /timezone <IANA name>." {
		t.Fatalf("reply = %q", got)
	}
	if len(st.Reminders()) != 0 {
		t.Fatalf("timezone command touched reminders")
	}
}

func TestListCommand(t *testing.T) {
	p, _ := newPipeline(t, "Asia/Kolkata")
	if got := handle(t, p, msg("/list", time.Time{})); got != msgNoPending {
		t.Fatalf("reply = %q", got)
	}
	sent := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	handle(t, p, msg("Remind me to drink water every day at 9am", sent))
	handle(t, p, msg("call mom tomorrow at 6 pm", sent))

	want := "⏰ Upcoming reminders (Asia/Kolkata):\n" +
		"1. Sat, Jun 1 09:00 AM - Drink water (daily)\n" +
		"2. Sun, Jun 2 06:00 PM - Call mom"
	if got := handle(t, p, msg("/list", time.Time{})); got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

func TestHelpAndUnknownCommands(t *testing.T) {
	p, _ := newPipeline(t, "UTC")
	for _, text := range []string{"/start", "/help", "/help@remind_bot"} {
		if got := handle(t, p, msg(text, time.Time{})); got != msgGreeting+"\n\n"+msgUsage {
			t.Fatalf("%s: reply = %q", text, got)
		}
	}
	if got := handle(t, p, msg("/snooze 5", time.Time{})); got != msgUsage {
		t.Fatalf("reply = %q", got)
	}
}

type failingReminders struct{ *storage.Memory }

func (failingReminders) Create(context.Context, domain.Reminder) (string, error) {
	return "", errors.New("database is locked")
}

func TestStoreFailureReply(t *testing.T) {
	st := storage.NewMemory()
	u, _, _ := st.FindOrCreateUser(context.Background(), domain.PlatformTelegram, chat, "Asha")
	_ = st.SetTimezone(context.Background(), u.ID, "UTC")
	p := New(st, failingReminders{st}, nil, logx.Nop())

	reply, err := p.Handle(context.Background(), msg("standup at 23:59", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)))
	if reply != msgError || err == nil {
		t.Fatalf("reply = %q err = %v", reply, err)
	}
}

func TestInvalidSender(t *testing.T) {
	p, _ := newPipeline(t, "")
	if _, err := p.Handle(context.Background(), Inbound{Platform: "sms", Address: "1", Text: "hi"}); err == nil {
		t.Fatal("expected error for unknown platform")
	}
	if _, err := p.Handle(context.Background(), Inbound{Platform: domain.PlatformWhatsApp, Text: "hi"}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, name, arg string
		ok            bool
	}{
		{"/timezone Asia/Kolkata", "timezone", "Asia/Kolkata", true},
		{"/List@bot", "list", "", true},
		{"/", "", "", false},
		{"timezone UTC", "", "", false},
	}
	for _, tt := range tests {
		name, arg, ok := parseCommand(tt.in)
		if name != tt.name || arg != tt.arg || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %q, %v", tt.in, name, arg, ok)
		}
	}
}
