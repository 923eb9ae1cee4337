// Package reminder is the scheduling and delivery engine. Each tick selects
// the pending reminders due in the current minute, delivers them, marks them
// sent and chains the next occurrence of recurring ones.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"remindbot/internal/delivery"
	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/tz"
	logx "remindbot/pkg/logx"
)

const (
	JobTick       = "reminders.tick"
	JobDedupReset = "reminders.dedup_reset"
)

type Config struct {
	Tick        string        // cron spec, default "* * * * *"
	DedupReset  time.Duration // default 5m
	Retention   time.Duration // default 7 days
	Concurrency int           // reminders delivered in parallel per tick, default 1
	TickTimeout time.Duration // default 50s
}

func (c Config) withDefaults() Config {
	if c.Tick == "" {
		c.Tick = "* * * * *"
	}
	if c.DedupReset <= 0 {
		c.DedupReset = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 50 * time.Second
	}
	return c
}

// TickReport summarizes one tick.
type TickReport struct {
	Start, End time.Time
	Due        int
	Sent       int
	Failed     int // delivery returned false; left pending
	Duplicates int // already claimed by this or an earlier tick
	Integrity  int // owner data missing; left pending
	Broken     int // successor or status write failed after delivery
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithEventBus(bus eventbus.Bus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.bus = bus
		}
	}
}

// Engine owns the dedup set and serializes ticks. Use New.
type Engine struct {
	cfg   Config
	store storage.ReminderStore
	gw    delivery.Gateway
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	tickMu sync.Mutex

	seenMu sync.Mutex
	seen   map[string]struct{}
}

func New(cfg Config, store storage.ReminderStore, gw delivery.Gateway, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:   cfg.withDefaults(),
		store: store,
		gw:    gw,
		log:   log,
		bus:   eventbus.Nop(),
		now:   time.Now,
		seen:  map[string]struct{}{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Trigger is the slice of the cron service the engine registers with.
type Trigger interface {
	AddSchedule(name, schedule string, timeout time.Duration, job scheduler.Job) (string, error)
}

// Register adds the tick and dedup reset jobs to t.
func (e *Engine) Register(t Trigger) error {
	if _, err := t.AddSchedule(JobTick, e.cfg.Tick, e.cfg.TickTimeout, func(ctx context.Context) error {
		_, err := e.Tick(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("register %s: %w", JobTick, err)
	}
	if _, err := t.AddSchedule(JobDedupReset, e.cfg.DedupReset.String(), 5*time.Second, func(context.Context) error {
		e.ResetDedup()
		return nil
	}); err != nil {
		return fmt.Errorf("register %s: %w", JobDedupReset, err)
	}
	return nil
}

// TickTimeout is the longest a single tick may run, defaults applied.
func (e *Engine) TickTimeout() time.Duration { return e.cfg.TickTimeout }

// ResetDedup forgets every claimed id.
func (e *Engine) ResetDedup() {
	e.seenMu.Lock()
	n := len(e.seen)
	clear(e.seen)
	e.seenMu.Unlock()
	if n > 0 {
		e.log.Debug("dedup set cleared", logx.Int("entries", n))
	}
}

func (e *Engine) claim(id string) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	if _, ok := e.seen[id]; ok {
		return false
	}
	e.seen[id] = struct{}{}
	return true
}

func (e *Engine) release(id string) {
	e.seenMu.Lock()
	delete(e.seen, id)
	e.seenMu.Unlock()
}

// Tick runs one pass. Ticks never overlap; a concurrent call waits. The
// returned error is non-nil only when the store query failed, in which case
// nothing was processed.
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	began := time.Now()
	start, end := Window(e.now(), e.cfg.Retention)
	rep := TickReport{Start: start, End: end}

	due, err := e.store.FindDue(ctx, start, end)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		e.log.Error("tick aborted", logx.Time("window_start", start), logx.Time("window_end", end), logx.Err(err))
		return rep, err
	}
	rep.Due = len(due)

	var (
		counts [outcomeCount]atomic.Int32
		g      errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)
	for _, d := range due {
		d := d
		if !e.claim(d.ID) {
			counts[outcomeDuplicate].Add(1)
			e.log.Debug("reminder already claimed; skipped", logx.String("id", d.ID))
			continue
		}
		g.Go(func() error {
			counts[e.process(ctx, d)].Add(1)
			return nil
		})
	}
	_ = g.Wait()

	rep.Sent = int(counts[outcomeSent].Load())
	rep.Failed = int(counts[outcomeFailed].Load())
	rep.Duplicates = int(counts[outcomeDuplicate].Load())
	rep.Integrity = int(counts[outcomeIntegrity].Load())
	rep.Broken = int(counts[outcomeBroken].Load())

	fields := []logx.Field{
		logx.Time("window_start", start), logx.Int("due", rep.Due), logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed), logx.Int("duplicates", rep.Duplicates),
		logx.Int("integrity", rep.Integrity), logx.Int("broken", rep.Broken),
		logx.Duration("took", time.Since(began)),
	}
	if rep.Due > 0 {
		e.log.Info("tick done", fields...)
	} else {
		e.log.Debug("tick done", fields...)
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.RemindersTick, Data: map[string]any{
		"due": rep.Due, "sent": rep.Sent, "failed": rep.Failed,
	}})
	return rep, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeDuplicate
	outcomeIntegrity
	outcomeBroken
	outcomeCount
)

func (e *Engine) process(ctx context.Context, d domain.DueReminder) outcome {
	log := e.log.With(logx.String("id", d.ID), logx.String("user", d.UserID))

	if err := validateOwner(d); err != nil {
		// Release so the reminder is picked up again once the data is fixed.
		e.release(d.ID)
		log.Error("due reminder skipped", logx.Err(err))
		e.publish(eventbus.ReminderIntegrityError, d, err)
		return outcomeIntegrity
	}

	text := Render(d.OriginalText, d.ScheduledAt, d.Timezone)
	if !e.gw.Send(ctx, d.Platform, d.Address, text) {
		e.release(d.ID)
		log.Warn("reminder left pending", logx.String("platform", string(d.Platform)), logx.Err(domain.ErrDeliveryFailed))
		e.publish(eventbus.ReminderDeliveryFailed, d, domain.ErrDeliveryFailed)
		return outcomeFailed
	}

	next, hasNext, nextErr := d.Recurrence.Next(d.ScheduledAt)

	// Sent first: a failed successor write must never cause a re-delivery.
	if err := e.store.MarkSent(ctx, d.ID); err != nil {
		log.Error("delivered but not marked sent; successor not created", logx.Err(err))
		e.publish(eventbus.ReminderChainBroken, d, err)
		return outcomeBroken
	}
	e.publish(eventbus.ReminderSent, d, nil)

	if nextErr != nil {
		log.Error("recurrence chain broken", logx.String("recurrence", d.Recurrence.String()), logx.Err(nextErr))
		e.publish(eventbus.ReminderChainBroken, d, nextErr)
		return outcomeBroken
	}
	if !hasNext {
		log.Debug("reminder sent")
		return outcomeSent
	}

	id, err := e.store.Create(ctx, d.Reminder.Successor(next, e.now()))
	if err != nil {
		log.Error("recurrence chain broken", logx.Time("next", next), logx.Err(err))
		e.publish(eventbus.ReminderChainBroken, d, err)
		return outcomeBroken
	}
	log.Debug("reminder sent; successor created", logx.String("next_id", id), logx.Time("next", next))
	return outcomeSent
}

func validateOwner(d domain.DueReminder) error {
	switch {
	case !d.Platform.Valid():
		return fmt.Errorf("%w: owner platform %q", domain.ErrDataIntegrity, d.Platform)
	case d.Address == "":
		return fmt.Errorf("%w: owner address missing", domain.ErrDataIntegrity)
	case !tz.Valid(d.Timezone):
		return fmt.Errorf("%w: owner timezone %q", domain.ErrDataIntegrity, d.Timezone)
	}
	return nil
}

func (e *Engine) publish(typ string, d domain.DueReminder, err error) {
	data := map[string]any{"id": d.ID, "user": d.UserID, "platform": string(d.Platform)}
	if err != nil {
		data["error"] = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
