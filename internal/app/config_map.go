package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

const defaultSQLitePath = "./data/remindbot.db"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	out := storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		MaxOpenConns: sc.MaxOpenConns,
	}
	switch driver {
	case "sqlite", "sqlite3":
		if out.Path == "" {
			out.Path = defaultSQLitePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "postgres", "postgresql", "pgx":
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
	}
	return out, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	dc := cfg.Delivery
	base, err := config.ParseDurationField("delivery.retry_base", dc.RetryBase)
	if err != nil {
		return delivery.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("delivery.retry_max_delay", dc.RetryMaxDelay)
	if err != nil {
		return delivery.Config{}, err
	}
	timeout, err := config.ParseDurationField("delivery.send_timeout", dc.SendTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		RatePerSec:    dc.RatePerSec,
		RetryMax:      dc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   timeout,
	}, nil
}

func mapWhatsAppConfig(cfg *config.Config) (delivery.WhatsAppConfig, error) {
	wc := cfg.WhatsApp
	timeout, err := config.ParseDurationField("whatsapp.timeout", wc.Timeout)
	if err != nil {
		return delivery.WhatsAppConfig{}, err
	}
	return delivery.WhatsAppConfig{
		Token:         strings.TrimSpace(wc.Token),
		PhoneNumberID: strings.TrimSpace(wc.PhoneNumberID),
		APIBase:       strings.TrimRight(strings.TrimSpace(wc.APIBase), "/"),
		APIVersion:    strings.TrimSpace(wc.APIVersion),
		Timeout:       timeout,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

func mapEngineConfig(cfg *config.Config) (reminder.Config, error) {
	sc := cfg.Scheduler
	dedup, err := config.ParseDurationField("scheduler.dedup_reset", sc.DedupReset)
	if err != nil {
		return reminder.Config{}, err
	}
	retention, err := config.ParseDurationField("scheduler.retention", sc.Retention)
	if err != nil {
		return reminder.Config{}, err
	}
	tickTimeout, err := config.ParseDurationField("scheduler.tick_timeout", sc.TickTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Tick:        strings.TrimSpace(sc.Tick),
		DedupReset:  dedup,
		Retention:   retention,
		Concurrency: sc.Concurrency,
		TickTimeout: tickTimeout,
	}, nil
}

// validateRuntime runs the checks config.Validate cannot do on its own:
// every section must map, and the tick spec must parse.
func validateRuntime(_ context.Context, cfg *config.Config) error {
	if _, err := mapAdapterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDeliveryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWhatsAppConfig(cfg); err != nil {
		return err
	}
	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	if ec.Tick != "" {
		check := scheduler.New(scheduler.Config{}, logx.Nop())
		noop := func(context.Context) error { return nil }
		if _, err := check.AddSchedule("tick", ec.Tick, 0, noop); err != nil {
			return fmt.Errorf("scheduler.tick: %w", err)
		}
	}
	return nil
}
