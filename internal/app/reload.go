package app

import (
	"context"
	"strings"

	"filegate/internal/config"
	logx "filegate/pkg/logx"
)

// reloadLoop fans validated config reloads out to the live components.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(c, last, next)
			last = next
		}
	}
}

func (a *App) apply(c context.Context, prev, next *config.Config) {
	rt, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("config reload ignored", logx.Err(err))
		return
	}
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.dir.SetAccess(next.Telegram.OwnerID, next.AdminIDs())
	a.dir.SetDefaultAutoDelete(rt.AutoDelete)
	a.delivery.Apply(mapDeliveryConfig(next, rt))
	a.broadcast.Apply(mapBroadcastConfig(next, rt))
	a.handlers.Apply(mapHandlerSettings(next, rt))
	a.health.Reconfigure(c, mapHealthConfig(next, rt))
	if err := a.maint.Apply(c, mapMaintenanceConfig(next, rt)); err != nil {
		a.log.Warn("maintenance config rejected; keeping previous", logx.Err(err))
	}

	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
