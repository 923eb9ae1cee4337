package app

import (
	"context"
	"strings"
	"time"

	"remindbot/internal/config"
	logx "remindbot/pkg/logx"
)

// startReload applies published configs. Logging, delivery and the cron
// trigger change live; everything else is logged as needing a restart.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if oldCfg == nil || oldCfg.Delivery != newCfg.Delivery {
		if dc, err := mapDeliveryConfig(newCfg); err != nil {
			a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
		} else {
			a.router.Apply(dc)
		}
	}

	if oldCfg != nil {
		oldEng, errOld := mapEngineConfig(oldCfg)
		newEng, errNew := mapEngineConfig(newCfg)
		if errOld == nil && errNew == nil && oldEng != newEng {
			a.log.Warn("reminder engine settings changed; restart required for changes to take effect")
		}
	}

	prev := a.sched.Enabled()
	sc := mapSchedulerConfig(newCfg)
	a.sched.Apply(sc)
	switch {
	case prev && !sc.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prev && sc.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}
