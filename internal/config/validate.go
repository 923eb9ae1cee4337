package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for empty and zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks everything that can be checked without opening
// connections. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"whatsapp.timeout", cfg.WhatsApp.Timeout},
		{"scheduler.dedup_reset", cfg.Scheduler.DedupReset},
		{"scheduler.retention", cfg.Scheduler.Retention},
		{"scheduler.tick_timeout", cfg.Scheduler.TickTimeout},
		{"delivery.retry_base", cfg.Delivery.RetryBase},
		{"delivery.retry_max_delay", cfg.Delivery.RetryMaxDelay},
		{"delivery.send_timeout", cfg.Delivery.SendTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
	for _, d := range durations {
		_, err := ParseDurationField(d.path, d.raw)
		check(err)
	}

	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		check(errors.New("telegram.token is required when telegram.enabled is true"))
	}
	if cfg.WhatsApp.Enabled {
		if strings.TrimSpace(cfg.WhatsApp.Token) == "" || strings.TrimSpace(cfg.WhatsApp.PhoneNumberID) == "" {
			check(errors.New("whatsapp.token and whatsapp.phone_number_id are required when whatsapp.enabled is true"))
		}
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		check(errors.New("logging.telegram.rate_per_sec must be >= 0"))
	}

	if cfg.Scheduler.Concurrency < 0 {
		check(errors.New("scheduler.concurrency must be >= 0"))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}

	if cfg.Delivery.RatePerSec < 0 {
		check(errors.New("delivery.rate_per_sec must be >= 0"))
	}
	if cfg.Delivery.RetryMax < 0 {
		check(errors.New("delivery.retry_max must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			check(errors.New("storage.dsn is required when storage.driver is postgres"))
		}
	default:
		check(fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}
	if cfg.Storage.MaxOpenConns < 0 {
		check(errors.New("storage.max_open_conns must be >= 0"))
	}

	return errors.Join(errs...)
}
