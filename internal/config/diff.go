package config

import (
	"reflect"

	"nelculobot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (tokens, API keys, passwords) are
// never included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.AdminChatID != newCfg.Telegram.AdminChatID ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Bool("telegram.admin_set", newCfg.Telegram.AdminChatID != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.Int("schedule.interval_minutes", newCfg.Schedule.IntervalMinutes))
	}

	oc, nc := oldCfg.Content, newCfg.Content
	oc.TMDB.APIKey, nc.TMDB.APIKey = "", ""
	if !reflect.DeepEqual(oc, nc) || (oldCfg.Content.TMDB.APIKey == "") != (newCfg.Content.TMDB.APIKey == "") {
		changed = append(changed, "content")
		attrs = append(attrs,
			logx.Bool("content.tmdb_enabled", newCfg.Content.TMDB.APIKey != ""),
			logx.Int("content.denylist", len(newCfg.Content.Denylist)),
			logx.Int("content.local_files", len(newCfg.Content.LocalFiles)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Poster, newCfg.Poster) {
		changed = append(changed, "poster")
	}
	if oldCfg.Caption != newCfg.Caption {
		changed = append(changed, "caption")
		attrs = append(attrs, logx.String("caption.strategy", newCfg.Caption.Strategy))
	}
	if oldCfg.Render != newCfg.Render {
		changed = append(changed, "render")
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
			logx.Bool("broadcast.prune_unreachable", newCfg.Broadcast.PruneUnreachable),
		)
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
	}
	return changed, attrs
}

// RequiresRestart reports whether the change touches sections that are only
// read at startup. Within telegram only the admin chat is applied live; within
// content only the denylist and recency rules are.
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "telegram", "storage", "poster", "render":
			return true
		}
	}
	return false
}
