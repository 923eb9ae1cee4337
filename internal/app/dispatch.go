package app

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/ingest"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	dispatchWorkers = 4
	handleTimeout   = 15 * time.Second
)

// messageHandler is the part of the ingest pipeline dispatch uses.
type messageHandler interface {
	Handle(ctx context.Context, in ingest.Inbound) (string, error)
}

type replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// startDispatch runs a small worker pool over the adapter's update channel.
func (a *App) startDispatch() {
	if a.adapter == nil {
		return
	}
	log := a.log.With(logx.String("comp", "dispatch"))
	for i := 0; i < dispatchWorkers; i++ {
		idx := i
		a.sup.GoRestart("dispatch.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-a.updates:
					if !ok {
						return nil
					}
					handleUpdate(c, log, a.pipeline, a.adapter, up)
				}
			}
		})
	}
	log.Info("update dispatcher started", logx.Int("workers", dispatchWorkers), logx.Int("queue_cap", cap(a.updates)))
}

// handleUpdate answers one inbound message. Panics are contained so a single
// message cannot take a worker down.
func handleUpdate(ctx context.Context, log logx.Logger, h messageHandler, out replier, up kit.Update) {
	in, ok := toInbound(up)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic handling message", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	reply, err := h.Handle(hctx, in)
	if err != nil {
		log.Warn("message handling failed", logx.String("address", in.Address), logx.Err(err))
	}
	if reply == "" {
		return
	}
	to := kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
	if _, err := out.SendText(hctx, to, reply, nil); err != nil {
		log.Warn("reply failed", logx.String("address", in.Address), logx.Err(err))
	}
}

func toInbound(up kit.Update) (ingest.Inbound, bool) {
	m := up.Message
	if up.Kind != kit.UpdateMessage || m == nil || m.ChatID == 0 || strings.TrimSpace(m.Text) == "" {
		return ingest.Inbound{}, false
	}
	name := m.FromName
	if name == "" {
		name = m.FromUsername
	}
	return ingest.Inbound{
		Platform: domain.PlatformTelegram,
		Address:  strconv.FormatInt(m.ChatID, 10),
		Name:     name,
		Text:     m.Text,
		SentAt:   m.Date,
	}, true
}
