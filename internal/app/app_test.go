package app

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/ingest"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	sc, err := mapStorageConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.Path != defaultSQLitePath || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("default storage = %+v", sc)
	}

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: " SQLite3 ", Path: "x.db", BusyTimeout: "2s"}})
	if err != nil || sc.Driver != "sqlite3" || sc.Path != "x.db" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("sqlite storage = %+v, %v", sc, err)
	}

	if _, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "postgres"}}); err == nil {
		t.Fatal("postgres without dsn accepted")
	}
	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "pgx", DSN: "postgres://h/db", MaxOpenConns: 4}})
	if err != nil || sc.DSN != "postgres://h/db" || sc.MaxOpenConns != 4 {
		t.Fatalf("postgres storage = %+v, %v", sc, err)
	}
}

func TestMapEngineAndDeliveryConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Tick: " * * * * * ", DedupReset: "10m", Retention: "48h", Concurrency: 3, TickTimeout: "30s"},
		Delivery:  config.DeliveryConfig{RatePerSec: 5, RetryMax: 2, RetryBase: "1s", RetryMaxDelay: "8s", SendTimeout: "3s"},
	}
	ec, err := mapEngineConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := reminder.Config{Tick: "* * * * *", DedupReset: 10 * time.Minute, Retention: 48 * time.Hour, Concurrency: 3, TickTimeout: 30 * time.Second}
	if ec != want {
		t.Fatalf("engine = %+v, want %+v", ec, want)
	}

	dc, err := mapDeliveryConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dc.RatePerSec != 5 || dc.RetryMax != 2 || dc.RetryBase != time.Second || dc.RetryMaxDelay != 8*time.Second || dc.SendTimeout != 3*time.Second {
		t.Fatalf("delivery = %+v", dc)
	}

	cfg.Delivery.SendTimeout = "soon"
	if _, err := mapDeliveryConfig(cfg); err == nil || !strings.Contains(err.Error(), "delivery.send_timeout") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateRuntime(t *testing.T) {
	t.Parallel()
	ok := &config.Config{Scheduler: config.SchedulerConfig{Tick: "* * * * *"}}
	if err := validateRuntime(context.Background(), ok); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := &config.Config{Scheduler: config.SchedulerConfig{Tick: "every minute"}}
	if err := validateRuntime(context.Background(), bad); err == nil || !strings.Contains(err.Error(), "scheduler.tick") {
		t.Fatalf("err = %v", err)
	}
}

func TestToInbound(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	in, ok := toInbound(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100123, FromUsername: "asha", Text: "hi", Date: at}})
	if !ok {
		t.Fatal("message update rejected")
	}
	want := ingest.Inbound{Platform: domain.PlatformTelegram, Address: "-100123", Name: "asha", Text: "hi", SentAt: at}
	if in != want {
		t.Fatalf("inbound = %+v", in)
	}

	for _, up := range []kit.Update{
		{Kind: kit.UpdateMessage},
		{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, Text: "  "}},
		{Kind: "callback", Message: &kit.Message{ChatID: 1, Text: "hi"}},
	} {
		if _, ok := toInbound(up); ok {
			t.Errorf("update %+v accepted", up)
		}
	}
}

type sentReply struct {
	to   kit.ChatTarget
	text string
}

type fakeReplier struct {
	mu   sync.Mutex
	sent []sentReply
}

func (f *fakeReplier) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentReply{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestHandleUpdateReplies(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	p := ingest.New(st, st, nil, logx.Nop())
	out := &fakeReplier{}

	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, ThreadID: 7, FromName: "Asha", Text: "/timezone Asia/Kolkata"}}
	handleUpdate(context.Background(), logx.Nop(), p, out, up)

	if len(out.sent) != 1 {
		t.Fatalf("replies = %+v", out.sent)
	}
	if got := out.sent[0]; got.to != (kit.ChatTarget{ChatID: 42, ThreadID: 7}) || got.text != "✅ Timezone set to Asia/Kolkata." {
		t.Fatalf("reply = %+v", got)
	}
	u, created, err := st.FindOrCreateUser(context.Background(), domain.PlatformTelegram, "42", "")
	if err != nil || created || u.Timezone != "Asia/Kolkata" || u.Name != "Asha" {
		t.Fatalf("user = %+v created=%v err=%v", u, created, err)
	}
}

type panicHandler struct{}

func (panicHandler) Handle(context.Context, ingest.Inbound) (string, error) { panic("boom") }

func TestHandleUpdateContainsPanic(t *testing.T) {
	t.Parallel()
	out := &fakeReplier{}
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, Text: "hi"}}
	handleUpdate(context.Background(), logx.Nop(), panicHandler{}, out, up)
	if len(out.sent) != 0 {
		t.Fatalf("replies = %+v", out.sent)
	}
}

type fakeNotifier struct {
	mu       sync.Mutex
	states   []string
	watchdog time.Duration
}

func (f *fakeNotifier) Notify(state string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return true, nil
}

func (f *fakeNotifier) WatchdogInterval() (time.Duration, error) { return f.watchdog, nil }

func (f *fakeNotifier) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.states)
}

func TestNotifyReadyAndWatchdog(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := &fakeNotifier{watchdog: 20 * time.Millisecond}
	a := &App{log: logx.Nop(), sup: supervisor.New(ctx), notify: n}
	a.notifyReady()

	deadline := time.Now().Add(2 * time.Second)
	for !slices.Contains(n.snapshot(), "WATCHDOG=1") {
		if time.Now().After(deadline) {
			t.Fatalf("states = %v", n.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n.snapshot()[0] != "READY=1" {
		t.Fatalf("first state = %q", n.snapshot()[0])
	}

	a.notifyStopping()
	if !slices.Contains(n.snapshot(), "STOPPING=1") {
		t.Fatalf("states = %v", n.snapshot())
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	logSvc, log := logx.New(logx.Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = logSvc.Close() })
	a, err := build(cfg, log, logSvc, eventbus.New(), storage.NewMemory())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	a.sup = supervisor.New(context.Background())
	t.Cleanup(a.sup.Cancel)
	return a
}

func TestBuildRegistersReminderJobs(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &config.Config{
		Scheduler: config.SchedulerConfig{Enabled: true, Timezone: "UTC"},
		WhatsApp:  config.WhatsAppConfig{Enabled: true, Token: "t", PhoneNumberID: "123"},
	})
	if a.adapter != nil {
		t.Fatal("adapter built while telegram is disabled")
	}
	var names []string
	for _, s := range a.sched.Schedules() {
		names = append(names, s.Name)
	}
	slices.Sort(names)
	if strings.Join(names, ",") != reminder.JobDedupReset+","+reminder.JobTick {
		t.Fatalf("schedules = %v", names)
	}
}

func TestBuildRejectsIncompleteWhatsApp(t *testing.T) {
	t.Parallel()
	logSvc, log := logx.New(logx.Config{Level: "error"}, nil)
	defer logSvc.Close()
	_, err := build(&config.Config{WhatsApp: config.WhatsAppConfig{Enabled: true}}, log, logSvc, eventbus.New(), storage.NewMemory())
	if err == nil || !strings.Contains(err.Error(), "whatsapp") {
		t.Fatalf("err = %v", err)
	}
}

func TestApplyConfigTogglesScheduler(t *testing.T) {
	t.Parallel()
	on := &config.Config{Scheduler: config.SchedulerConfig{Enabled: true}}
	a := newTestApp(t, on)
	a.sched.Start(a.sup.Context())

	off := &config.Config{Scheduler: config.SchedulerConfig{Enabled: false}, Logging: config.LoggingConfig{Level: "warn"}}
	a.applyConfig(context.Background(), on, off)
	if a.sched.Enabled() {
		t.Fatal("scheduler still enabled")
	}

	a.applyConfig(a.sup.Context(), off, on)
	if !a.sched.Enabled() {
		t.Fatal("scheduler not re-enabled")
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a.sched.Stop(stopCtx)
}

func TestStopTimeoutCoversTickTimeout(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &config.Config{Scheduler: config.SchedulerConfig{TickTimeout: "40s"}})
	if a.drain != 40*time.Second+drainMargin {
		t.Fatalf("drain = %s", a.drain)
	}
	if a.StopTimeout() <= a.drain {
		t.Fatalf("stop timeout %s does not cover drain %s", a.StopTimeout(), a.drain)
	}
}

// slowChannel holds every delivery for delay and signals the first one.
type slowChannel struct {
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func (*slowChannel) Platform() domain.Platform { return domain.PlatformTelegram }

func (c *slowChannel) Deliver(ctx context.Context, _, _ string) error {
	c.once.Do(func() { close(c.started) })
	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestStopDrainsInFlightTick(t *testing.T) {
	// The tick only sees reminders due in the current minute.
	if sec := time.Now().Second(); sec >= 55 {
		time.Sleep(time.Duration(61-sec) * time.Second)
	}
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "remindbot.db")
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	u, _, err := st.FindOrCreateUser(ctx, domain.PlatformTelegram, "42", "Asha")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetTimezone(ctx, u.ID, "UTC"); err != nil {
		t.Fatal(err)
	}
	at := time.Now().UTC().Truncate(time.Minute)
	id, err := st.Create(ctx, domain.Reminder{
		UserID:       u.ID,
		Text:         "Stretch",
		OriginalText: "stretch every day at 9am",
		ScheduledAt:  at,
		Status:       domain.StatusPending,
		Recurrence:   domain.Daily(),
		CreatedAt:    at,
	})
	if err != nil {
		t.Fatal(err)
	}

	logSvc, log := logx.New(logx.Config{Level: "error"}, nil)
	defer logSvc.Close()
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Enabled: true, Tick: "* * * * * *", TickTimeout: "5s"}}
	a, err := build(cfg, log, logSvc, eventbus.New(), st)
	if err != nil {
		t.Fatal(err)
	}
	a.notify = nil
	ch := &slowChannel{delay: 500 * time.Millisecond, started: make(chan struct{})}
	a.router.Register(ch)

	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tick never delivered")
	}
	stopCtx, cancel := context.WithTimeout(ctx, a.StopTimeout())
	defer cancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatal(err)
	}

	reopened, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	pending, err := reopened.ListPending(ctx, u.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	next := pending[0]
	if next.ID == id || next.ParentID != id || !next.ScheduledAt.Equal(at.Add(24*time.Hour)) {
		t.Fatalf("successor = %+v", next)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var status string
	if err := db.QueryRowContext(ctx, `SELECT status FROM reminders WHERE id = ?`, id).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != string(domain.StatusSent) {
		t.Fatalf("original status = %q", status)
	}
}

func TestApplyConfigUpdatesDelivery(t *testing.T) {
	t.Parallel()
	old := &config.Config{Delivery: config.DeliveryConfig{RatePerSec: 20}}
	a := newTestApp(t, old)
	next := &config.Config{Delivery: config.DeliveryConfig{RatePerSec: 7, RetryMax: 3, SendTimeout: "4s"}}
	a.applyConfig(context.Background(), old, next)

	got := a.router.Config()
	if got.RatePerSec != 7 || got.RetryMax != 3 || got.SendTimeout != 4*time.Second {
		t.Fatalf("router config = %+v", got)
	}
}
