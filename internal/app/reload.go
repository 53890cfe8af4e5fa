package app

import (
	"context"
	"strings"

	"nelculobot/internal/config"
	"nelculobot/internal/eventbus"
	"nelculobot/pkg/logx"
)

// reloadLoop applies committed config changes to the components that can
// take them live.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(sections) {
		a.log.Warn("config change needs a restart to take full effect", logx.Strings("changed", sections))
	}

	// Target first so Apply doesn't warn when the Telegram sink is enabled.
	a.logs.SetTelegramTarget(next.Telegram.AdminChatID)
	a.logs.Apply(mapLogging(next))

	a.cmdm.SetAdmin(next.Telegram.AdminChatID)
	a.rules.Set(mapRules(next))
	a.caption.Set(next.Caption.Strategy)
	a.dispatch.Apply(mapBroadcast(next))
	if err := a.status.Reconfigure(ctx, mapStatus(next)); err != nil {
		a.log.Error("status reconfigure failed", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
