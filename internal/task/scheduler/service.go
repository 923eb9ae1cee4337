package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		base:   context.Background(),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change restarts cron with every
// registered schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start begins triggering. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base = ctx
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for in-flight runs until ctx is done.
// Definitions are kept for a later Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	pending := s.retired
	s.retired = nil
	if s.c != nil {
		pending = append(pending, s.c.Stop())
		s.c = nil
	}
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done.Done():
		case <-ctx.Done():
			s.log.Warn("stop timed out with runs in flight", logx.Err(ctx.Err()))
			s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
			return
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// restartLocked swaps in a runner for the current timezone. The old runner
// stops triggering at once; its in-flight runs finish on their own and keep
// the per-schedule overlap guard, so nothing here waits with s.mu held.
func (s *Service) restartLocked() {
	done := s.c.Stop()
	s.retired = append(s.retired, done)
	go func() {
		<-done.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.retired = slices.DeleteFunc(s.retired, func(c context.Context) bool { return c == done })
	}()

	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) registerLocked(d *scheduleDef) error {
	base := s.base
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() { s.run(base, d) }))
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	d.entryID = eid
	return nil
}

// run executes one trigger of d, skipping it if the previous run is still going.
func (s *Service) run(base context.Context, d *scheduleDef) {
	if !d.running.CompareAndSwap(false, true) {
		n := d.skipped.Add(1)
		s.log.Warn("previous run still in flight; trigger skipped", logx.String("name", d.name), logx.Uint64("skipped_total", n))
		return
	}
	defer d.running.Store(false)
	d.runs.Add(1)

	ctx := context.WithoutCancel(base)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return d.job(ctx)
	}()
	if err != nil {
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Trace("job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
