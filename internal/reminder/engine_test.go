package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

type sent struct {
	platform domain.Platform
	address  string
	text     string
}

type fakeGateway struct {
	mu   sync.Mutex
	ok   bool
	sent []sent
}

func (g *fakeGateway) Send(_ context.Context, p domain.Platform, address, text string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sent{p, address, text})
	return g.ok
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *fakeGateway) setOK(ok bool) {
	g.mu.Lock()
	g.ok = ok
	g.mu.Unlock()
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

var (
	firstFire = time.Date(2024, 6, 1, 3, 30, 0, 0, time.UTC)
	tickAt    = time.Date(2024, 6, 1, 3, 30, 10, 0, time.UTC)
)

func seedUser(t *testing.T, st *storage.Memory, zone string) domain.User {
	t.Helper()
	u, _, err := st.FindOrCreateUser(context.Background(), domain.PlatformTelegram, "1001", "Asha")
	if err != nil {
		t.Fatal(err)
	}
	if zone != "" {
		if err := st.SetTimezone(context.Background(), u.ID, zone); err != nil {
			t.Fatal(err)
		}
	}
	return u
}

func seedReminder(t *testing.T, st storage.ReminderStore, userID string, at time.Time, rec domain.Recurrence) string {
	t.Helper()
	id, err := st.Create(context.Background(), domain.Reminder{
		UserID:       userID,
		Text:         "drink water",
		OriginalText: "Remind me to drink water every day at 9am",
		ScheduledAt:  at,
		Recurrence:   rec,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestTickDeliversAndChainsDaily(t *testing.T) {
	st := storage.NewMemory()
	u := seedUser(t, st, "Asia/Kolkata")
	id := seedReminder(t, st, u.ID, firstFire, domain.Daily())
	gw := &fakeGateway{ok: true}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	e := New(Config{}, st, gw, logx.Nop(), WithClock(fixedClock(tickAt)), WithEventBus(bus))
	rep, err := e.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if rep.Due != 1 || rep.Sent != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if !rep.Start.Equal(firstFire) || !rep.End.Equal(firstFire.Add(time.Minute-time.Nanosecond)) {
		t.Fatalf("window = [%s, %s]", rep.Start, rep.End)
	}

	want := "🔔 📢 Reminder:\nThis is a reminder for you to Drink water at 09:00 AM."
	if len(gw.sent) != 1 || gw.sent[0].text != want || gw.sent[0].address != "1001" || gw.sent[0].platform != domain.PlatformTelegram {
		t.Fatalf("sent = %+v", gw.sent)
	}

	all := st.Reminders()
	if len(all) != 2 {
		t.Fatalf("reminders = %+v", all)
	}
	if all[0].ID != id || all[0].Status != domain.StatusSent {
		t.Fatalf("original = %+v", all[0])
	}
	succ := all[1]
	if !succ.ScheduledAt.Equal(time.Date(2024, 6, 2, 3, 30, 0, 0, time.UTC)) || succ.Status != domain.StatusPending {
		t.Fatalf("successor = %+v", succ)
	}
	if succ.Recurrence != domain.Daily() || succ.ParentID != id || succ.UserID != u.ID || succ.OriginalText != all[0].OriginalText {
		t.Fatalf("successor fields = %+v", succ)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if fmt.Sprint(types) != fmt.Sprint([]string{eventbus.ReminderSent, eventbus.RemindersTick}) {
		t.Fatalf("events = %v", types)
	}
}

func TestTickDeliveryFailureLeavesPending(t *testing.T) {
	st := storage.NewMemory()
	u := seedUser(t, st, "Asia/Kolkata")
	id := seedReminder(t, st, u.ID, firstFire, domain.Daily())
	gw := &fakeGateway{ok: false}
	e := New(Config{}, st, gw, logx.Nop(), WithClock(fixedClock(tickAt)))

	rep, err := e.Tick(context.Background())
	if err != nil || rep.Failed != 1 || rep.Sent != 0 {
		t.Fatalf("rep = %+v err = %v", rep, err)
	}
	r, _ := st.Get(id)
	if r.Status != domain.StatusPending || len(st.Reminders()) != 1 {
		t.Fatalf("after failure: %+v, %d reminders", r, len(st.Reminders()))
	}

	// The next tick re-selects it and retries.
	if rep, _ := e.Tick(context.Background()); rep.Failed != 1 || rep.Duplicates != 0 {
		t.Fatalf("retry rep = %+v", rep)
	}
	if gw.calls() != 2 {
		t.Fatalf("gateway calls = %d", gw.calls())
	}

	gw.setOK(true)
	if rep, _ := e.Tick(context.Background()); rep.Sent != 1 {
		t.Fatalf("recovered rep = %+v", rep)
	}
	if rep, _ := e.Tick(context.Background()); rep.Due != 0 {
		t.Fatalf("after send rep = %+v", rep)
	}
	if gw.calls() != 3 {
		t.Fatalf("gateway calls = %d, want 3", gw.calls())
	}
	if all := st.Reminders(); len(all) != 2 || all[0].Status != domain.StatusSent {
		t.Fatalf("reminders = %+v", all)
	}
}

// dupStore returns every due row twice.
type dupStore struct{ *storage.Memory }

func (d dupStore) FindDue(ctx context.Context, start, end time.Time) ([]domain.DueReminder, error) {
	rows, err := d.Memory.FindDue(ctx, start, end)
	return append(rows, rows...), err
}

func TestTickDeliversDuplicateRowOnce(t *testing.T) {
	st := storage.NewMemory()
	u := seedUser(t, st, "Asia/Kolkata")
	seedReminder(t, st, u.ID, firstFire, domain.None())
	gw := &fakeGateway{ok: true}
	e := New(Config{Concurrency: 4}, dupStore{st}, gw, logx.Nop(), WithClock(fixedClock(tickAt)))

	rep, err := e.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if gw.calls() != 1 || rep.Sent != 1 || rep.Duplicates != 1 {
		t.Fatalf("calls=%d rep=%+v", gw.calls(), rep)
	}
	if len(st.Reminders()) != 1 {
		t.Fatalf("non-recurring reminder produced a successor")
	}
}

func TestTickClaimSurvivesUntilReset(t *testing.T) {
	st := storage.NewMemory()
	u := seedUser(t, st, "UTC")
	id := seedReminder(t, st, u.ID, firstFire, domain.None())
	e := New(Config{}, dupStore{st}, &fakeGateway{ok: true}, logx.Nop(), WithClock(fixedClock(tickAt)))

	if !e.claim(id) {
		t.Fatal("first claim failed")
	}
	if rep, _ := e.Tick(context.Background()); rep.Duplicates != 2 || rep.Sent != 0 {
		t.Fatalf("rep = %+v", rep)
	}
	e.ResetDedup()
	if rep, _ := e.Tick(context.Background()); rep.Sent != 1 {
		t.Fatalf("after reset rep = %+v", rep)
	}
}

func TestTickIntegrityErrorLeavesPending(t *testing.T) {
	st := storage.NewMemory()
	u := seedUser(t, st, "")
	id := seedReminder(t, st, u.ID, firstFire, domain.Daily())
	orphan := seedReminder(t, st, "ghost", firstFire, domain.None())
	gw := &fakeGateway{ok: true}
	e := New(Config{}, st, gw, logx.Nop(), WithClock(fixedClock(tickAt)))

	rep, err := e.Tick(context.Background())
	if err != nil || rep.Integrity != 2 || gw.calls() != 0 {
		t.Fatalf("rep = %+v err = %v calls = %d", rep, err, gw.calls())
	}
	for _, rid := range []string{id, orphan} {
		if r, _ := st.Get(rid); r.Status != domain.StatusPending {
			t.Fatalf("%s status = %s", rid, r.Status)
		}
	}

	// Once fixed, the same minute's next tick delivers it.
	if err := st.SetTimezone(context.Background(), u.ID, "Europe/Berlin"); err != nil {
		t.Fatal(err)
	}
	if rep, _ := e.Tick(context.Background()); rep.Sent != 1 || rep.Integrity != 1 {
		t.Fatalf("rep after fix = %+v", rep)
	}
}

type downStore struct{ *storage.Memory }

func (downStore) FindDue(context.Context, time.Time, time.Time) ([]domain.DueReminder, error) {
	return nil, errors.New("connection refused")
}

func TestTickStoreUnavailable(t *testing.T) {
	e := New(Config{}, downStore{storage.NewMemory()}, &fakeGateway{ok: true}, logx.Nop(), WithClock(fixedClock(tickAt)))
	_, err := e.Tick(context.Background())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

type brokenChainStore struct {
	*storage.Memory
	failMark bool
}

func (b *brokenChainStore) Create(ctx context.Context, r domain.Reminder) (string, error) {
	if r.ParentID != "" {
		return "", errors.New("disk full")
	}
	return b.Memory.Create(ctx, r)
}

func (b *brokenChainStore) MarkSent(ctx context.Context, id string) error {
	if b.failMark {
		return errors.New("write timeout")
	}
	return b.Memory.MarkSent(ctx, id)
}

func TestTickSuccessorFailureKeepsSent(t *testing.T) {
	mem := storage.NewMemory()
	st := &brokenChainStore{Memory: mem}
	u := seedUser(t, mem, "Asia/Kolkata")
	id := seedReminder(t, st, u.ID, firstFire, domain.Weekly())
	gw := &fakeGateway{ok: true}
	e := New(Config{}, st, gw, logx.Nop(), WithClock(fixedClock(tickAt)))

	rep, err := e.Tick(context.Background())
	if err != nil || rep.Broken != 1 {
		t.Fatalf("rep = %+v err = %v", rep, err)
	}
	if r, _ := mem.Get(id); r.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", r.Status)
	}
	if rep, _ := e.Tick(context.Background()); rep.Due != 0 || gw.calls() != 1 {
		t.Fatalf("re-delivered: rep=%+v calls=%d", rep, gw.calls())
	}
}

func TestTickMarkSentFailureSkipsSuccessor(t *testing.T) {
	mem := storage.NewMemory()
	st := &brokenChainStore{Memory: mem, failMark: true}
	u := seedUser(t, mem, "Asia/Kolkata")
	seedReminder(t, mem, u.ID, firstFire, domain.Daily())
	gw := &fakeGateway{ok: true}
	e := New(Config{}, st, gw, logx.Nop(), WithClock(fixedClock(tickAt)))

	if rep, _ := e.Tick(context.Background()); rep.Broken != 1 {
		t.Fatalf("rep = %+v", rep)
	}
	if len(mem.Reminders()) != 1 {
		t.Fatalf("successor created despite failed status write")
	}
	// The claim holds, so the same minute does not deliver it again.
	if rep, _ := e.Tick(context.Background()); rep.Duplicates != 1 || gw.calls() != 1 {
		t.Fatalf("rep = %+v calls = %d", rep, gw.calls())
	}
}

func TestTickBoundedConcurrencyDeliversEachOnce(t *testing.T) {
	st := storage.NewMemory()
	u := seedUser(t, st, "Asia/Kolkata")
	for i := 0; i < 25; i++ {
		seedReminder(t, st, u.ID, firstFire.Add(time.Duration(i)*time.Second), domain.EveryNDays(3))
	}
	gw := &fakeGateway{ok: true}
	e := New(Config{Concurrency: 5}, st, gw, logx.Nop(), WithClock(fixedClock(tickAt)))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Tick(context.Background())
		}()
	}
	wg.Wait()

	if gw.calls() != 25 {
		t.Fatalf("gateway calls = %d, want 25", gw.calls())
	}
	pending := 0
	for _, r := range st.Reminders() {
		if r.Status == domain.StatusPending {
			pending++
			if r.ScheduledAt.Before(time.Date(2024, 6, 4, 3, 30, 0, 0, time.UTC)) {
				t.Fatalf("successor at %s", r.ScheduledAt)
			}
		}
	}
	if pending != 25 {
		t.Fatalf("pending successors = %d", pending)
	}
}

func TestTickSkipsReminderBeyondRetention(t *testing.T) {
	st := storage.NewMemory()
	u := seedUser(t, st, "UTC")
	seedReminder(t, st, u.ID, tickAt.AddDate(0, 0, -10), domain.None())
	gw := &fakeGateway{ok: true}
	e := New(Config{}, st, gw, logx.Nop(), WithClock(fixedClock(tickAt)))
	if rep, _ := e.Tick(context.Background()); rep.Due != 0 || gw.calls() != 0 {
		t.Fatalf("rep = %+v", rep)
	}
}

func TestRegister(t *testing.T) {
	svc := scheduler.New(scheduler.Config{Enabled: true}, logx.Nop())
	e := New(Config{}, storage.NewMemory(), &fakeGateway{}, logx.Nop())
	if err := e.Register(svc); err != nil {
		t.Fatal(err)
	}
	got := svc.Schedules()
	if len(got) != 2 || got[0].Name != JobDedupReset || got[0].Spec != "@every 5m0s" || got[1].Name != JobTick || got[1].Spec != "* * * * *" {
		t.Fatalf("schedules = %+v", got)
	}
	if got[1].Timeout != 50*time.Second {
		t.Fatalf("tick timeout = %s", got[1].Timeout)
	}

	bad := New(Config{Tick: "every tuesday"}, storage.NewMemory(), &fakeGateway{}, logx.Nop())
	if err := bad.Register(scheduler.New(scheduler.Config{}, logx.Nop())); err == nil {
		t.Fatal("expected error for invalid tick spec")
	}
}
