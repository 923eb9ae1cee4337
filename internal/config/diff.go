package config

import (
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// Sections that only take effect on restart.
var restartSections = map[string]bool{
	"telegram": true,
	"whatsapp": true,
	"storage":  true,
}

// SummarizeConfigChange returns the changed section names, safe log fields
// (never tokens or DSNs) and the subset of sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := *oldCfg, *newCfg

	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if o.Telegram.Enabled != n.Telegram.Enabled ||
		o.Telegram.Token != n.Telegram.Token ||
		strings.TrimSpace(o.Telegram.PollTimeout) != strings.TrimSpace(n.Telegram.PollTimeout) ||
		o.Telegram.LogChatID != n.Telegram.LogChatID {
		mark("telegram",
			logx.Bool("telegram.enabled", n.Telegram.Enabled),
			logx.Bool("telegram.token_changed", o.Telegram.Token != n.Telegram.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(n.Telegram.PollTimeout)),
			logx.Bool("telegram.log_chat_set", n.Telegram.LogChatID != 0),
		)
	}

	if o.WhatsApp != n.WhatsApp {
		mark("whatsapp",
			logx.Bool("whatsapp.enabled", n.WhatsApp.Enabled),
			logx.Bool("whatsapp.token_changed", o.WhatsApp.Token != n.WhatsApp.Token),
			logx.String("whatsapp.api_version", n.WhatsApp.APIVersion),
		)
	}

	if o.Logging != n.Logging {
		mark("logging",
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
		)
	}

	if o.Scheduler != n.Scheduler {
		mark("scheduler",
			logx.Bool("scheduler.enabled", n.Scheduler.Enabled),
			logx.String("scheduler.tick", n.Scheduler.Tick),
			logx.String("scheduler.retention", n.Scheduler.Retention),
			logx.Int("scheduler.concurrency", n.Scheduler.Concurrency),
			logx.String("scheduler.timezone", n.Scheduler.Timezone),
		)
	}

	if o.Delivery != n.Delivery {
		mark("delivery",
			logx.Int("delivery.rate_per_sec", n.Delivery.RatePerSec),
			logx.Int("delivery.retry_max", n.Delivery.RetryMax),
		)
	}

	if o.Storage != n.Storage {
		mark("storage",
			logx.String("storage.driver", n.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(n.Storage.DSN) != ""),
		)
	}

	sort.Strings(changed)
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
