package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA zone cron expressions are evaluated in; empty means UTC
}

// Job is a scheduled unit of work. ctx carries the per-run timeout.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron expression or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running atomic.Bool
	skipped atomic.Uint64
	runs    atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef
	// base is the Start context. Runs detach from its cancellation so a
	// shutdown lets an in-flight run finish within its own timeout.
	base context.Context
	// retired holds the stop contexts of runners replaced by a timezone
	// change whose runs may still be in flight.
	retired []context.Context
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Runs    uint64
	Skipped uint64
}
