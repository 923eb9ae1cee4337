package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of the secret overrides, e.g. REMINDBOT_TELEGRAM_TOKEN.
const EnvPrefix = "REMINDBOT"

// Secrets are credentials that may live outside the config file. Non-empty
// values override the file.
type Secrets struct {
	TelegramToken         string `envconfig:"TELEGRAM_TOKEN"`
	WhatsAppToken         string `envconfig:"WHATSAPP_TOKEN"`
	WhatsAppPhoneNumberID string `envconfig:"WHATSAPP_PHONE_NUMBER_ID"`
	DatabaseURL           string `envconfig:"DATABASE_URL"`
}

func LoadSecrets(prefix string) (Secrets, error) {
	var s Secrets
	if err := envconfig.Process(prefix, &s); err != nil {
		return Secrets{}, fmt.Errorf("env %s_*: %w", prefix, err)
	}
	return s, nil
}

// Overlay copies the non-empty secrets into cfg.
func (s Secrets) Overlay(cfg *Config) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, s.TelegramToken)
	set(&cfg.WhatsApp.Token, s.WhatsAppToken)
	set(&cfg.WhatsApp.PhoneNumberID, s.WhatsAppPhoneNumberID)
	set(&cfg.Storage.DSN, s.DatabaseURL)
}
