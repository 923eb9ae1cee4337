package delivery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"remindbot/internal/domain"
	kit "remindbot/internal/transport"
)

// TextSender is the slice of the Telegram adapter used for delivery.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Telegram delivers to a chat id through the long-poll adapter.
type Telegram struct {
	sender TextSender
}

func NewTelegram(sender TextSender) *Telegram { return &Telegram{sender: sender} }

func (*Telegram) Platform() domain.Platform { return domain.PlatformTelegram }

func (t *Telegram) Deliver(ctx context.Context, address, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil || chatID == 0 {
		return fmt.Errorf("%w: telegram chat id %q", ErrPermanent, address)
	}
	_, err = t.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}
