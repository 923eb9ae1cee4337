package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindbot/pkg/logx"
)

// notifier talks to the service manager. Outside systemd every call is a
// no-op that reports false.
type notifier interface {
	Notify(state string) (bool, error)
	WatchdogInterval() (time.Duration, error)
}

type systemdNotifier struct{}

func (systemdNotifier) Notify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func (systemdNotifier) WatchdogInterval() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) }

func (a *App) notifyReady() {
	if a.notify == nil {
		return
	}
	sent, err := a.notify.Notify(daemon.SdNotifyReady)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", "ready"), logx.Err(err))
		return
	}
	if !sent {
		return
	}
	a.log.Debug("systemd notified", logx.String("state", "ready"))

	every, err := a.notify.WatchdogInterval()
	if err != nil || every <= 0 {
		return
	}
	// Ping at half the interval.
	every /= 2
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if _, err := a.notify.Notify(daemon.SdNotifyWatchdog); err != nil {
					a.log.Warn("systemd watchdog ping failed", logx.Err(err))
				}
			}
		}
	})
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
}

func (a *App) notifyStopping() {
	if a.notify == nil {
		return
	}
	if _, err := a.notify.Notify(daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd notify failed", logx.String("state", "stopping"), logx.Err(err))
	}
}
