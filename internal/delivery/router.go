// Package delivery routes outbound reminder text to a per-platform channel
// with rate limiting, bounded per-call timeouts and retry.
package delivery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// ErrPermanent marks failures that retrying cannot fix (bad address, blocked bot).
var ErrPermanent = errors.New("permanent delivery failure")

// Gateway sends text to an address on a platform and reports success.
// It never returns an error; failures are logged and published.
type Gateway interface {
	Send(ctx context.Context, platform domain.Platform, address, text string) bool
}

// Channel delivers to one platform.
type Channel interface {
	Platform() domain.Platform
	Deliver(ctx context.Context, address, text string) error
}

type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

type route struct {
	ch      Channel
	limiter *rate.Limiter
}

// Router implements Gateway over registered channels. Safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	cfg    Config
	routes map[domain.Platform]*route
	log    logx.Logger
	bus    eventbus.Bus
}

func NewRouter(cfg Config, log logx.Logger, bus eventbus.Bus, channels ...Channel) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	r := &Router{cfg: cfg.withDefaults(), routes: map[domain.Platform]*route{}, log: log, bus: bus}
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

// Register adds or replaces the channel for ch.Platform().
func (r *Router) Register(ch Channel) {
	if ch == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[ch.Platform()] = &route{ch: ch, limiter: r.newLimiter()}
	r.log.Info("delivery channel registered", logx.String("platform", string(ch.Platform())))
}

// Apply swaps the config; limiters are rebuilt with the new rate.
func (r *Router) Apply(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg.withDefaults()
	for _, rt := range r.routes {
		rt.limiter = r.newLimiter()
	}
}

// Config returns the active config, defaults applied.
func (r *Router) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// newLimiter is called with r.mu held.
func (r *Router) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(r.cfg.RatePerSec), r.cfg.RatePerSec)
}

func (r *Router) Send(ctx context.Context, platform domain.Platform, address, text string) bool {
	r.mu.RLock()
	rt := r.routes[platform]
	cfg := r.cfg
	r.mu.RUnlock()

	if rt == nil {
		r.log.Error("no delivery channel for platform", logx.String("platform", string(platform)))
		r.publish(eventbus.DeliveryFailed, platform, address, errors.New("no channel"))
		return false
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := rt.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := rt.ch.Deliver(callCtx, address, text)
		cancel()
		if err == nil {
			r.publish(eventbus.DeliverySent, platform, address, nil)
			return true
		}
		lastErr = err
		r.log.Debug("delivery attempt failed",
			logx.String("platform", string(platform)), logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))

		if errors.Is(err, ErrPermanent) || attempt >= attempts {
			break
		}
		if !sleepCtx(ctx, retryDelay(cfg, attempt)) {
			lastErr = ctx.Err()
			break
		}
	}

	r.log.Warn("delivery failed",
		logx.String("platform", string(platform)), logx.String("address", address), logx.Err(lastErr))
	r.publish(eventbus.DeliveryFailed, platform, address, lastErr)
	return false
}

func (r *Router) publish(typ string, platform domain.Platform, address string, err error) {
	data := map[string]any{"platform": string(platform), "address": address}
	if err != nil {
		data["error"] = err.Error()
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1) capped at
// RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return max(d, 0)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
