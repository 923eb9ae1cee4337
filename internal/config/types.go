package config

// Config is the on-disk configuration (JSON or YAML). All durations are Go
// duration strings ("500ms", "10s", "168h"); empty means the default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	// PollTimeout defaults to 10s.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LogChatID receives ops log lines when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

// WhatsAppConfig configures outbound delivery through the WhatsApp Cloud API.
type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token,omitempty"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	APIBase       string `json:"api_base,omitempty"`    // default https://graph.facebook.com
	APIVersion    string `json:"api_version,omitempty"` // default v17.0
	Timeout       string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the reminder tick.
//
// Defaults:
//   - tick: "* * * * *"
//   - dedup_reset: "5m"
//   - retention: "168h"
//   - concurrency: 1
//   - tick_timeout: "50s"
//   - timezone: UTC (the cron runner's zone, not the users')
type SchedulerConfig struct {
	Enabled     bool   `json:"enabled"`
	Tick        string `json:"tick,omitempty"`
	DedupReset  string `json:"dedup_reset,omitempty"`
	Retention   string `json:"retention,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	TickTimeout string `json:"tick_timeout,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// DeliveryConfig controls the per-platform send router.
type DeliveryConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/remindbot.db" }
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"` // sqlite (default) | postgres | memory
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}
