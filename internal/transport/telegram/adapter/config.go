package adapter

import "time"

// Config configures the Telegram long-poll adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// UpdateBuffer is advisory; the consumer owns the updates channel.
	UpdateBuffer int
}
