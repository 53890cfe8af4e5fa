package app

import (
	"time"

	"nelculobot/internal/broadcast"
	"nelculobot/internal/config"
	"nelculobot/internal/content"
	"nelculobot/internal/observability/status"
	"nelculobot/internal/poster"
	"nelculobot/internal/render"
	"nelculobot/internal/scheduler"
	"nelculobot/internal/storage"
	"nelculobot/pkg/logx"
)

// The mappers below expect a normalized, validated config; durations have
// already been checked so Dur only supplies the fallback.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	s := cfg.Storage
	out := storage.Config{
		Driver:      s.Driver,
		BusyTimeout: config.Dur(s.BusyTimeout, time.Second),
		Redis: storage.RedisConfig{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			Key:      s.RedisKey,
		},
	}
	switch s.Driver {
	case "sqlite":
		out.Path = s.Path
	case "file":
		out.Path = s.SubscribersPath
	}
	return out
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		DefaultMinutes: cfg.Schedule.IntervalMinutes,
		InitialDelay:   config.Dur(cfg.Schedule.InitialDelay, scheduler.DefaultInitialDelay),
	}
}

func mapTMDB(cfg *config.Config) content.TMDBConfig {
	t := cfg.Content.TMDB
	return content.TMDBConfig{
		APIKey:      t.APIKey,
		BaseURL:     t.BaseURL,
		ImageBase:   t.ImageBase,
		Language:    t.Language,
		MaxPages:    t.MaxPages,
		MaxAttempts: t.MaxAttempts,
		Timeout:     config.Dur(t.Timeout, 10*time.Second),
	}
}

func mapBreaker(cfg *config.Config) *content.Breaker {
	t := cfg.Content.TMDB
	return content.NewBreaker(t.BreakerTrip,
		config.Dur(t.BreakerCooldown, 30*time.Second),
		config.Dur(t.BreakerMaxBackoff, 10*time.Minute))
}

func mapRules(cfg *config.Config) content.Rules {
	r := content.Rules{
		Denylist:        cfg.Content.Denylist,
		RecentSinceYear: cfg.Content.TMDB.RecentSinceYear,
	}
	if p := cfg.Content.TMDB.RecencySkip; p != nil {
		r.RecencySkip = *p
	}
	return r
}

func mapPoster(cfg *config.Config) poster.Config {
	p := cfg.Poster
	return poster.Config{
		Enabled:   p.SearchEnabled == nil || *p.SearchEnabled,
		Suffix:    p.SearchSuffix,
		UserAgent: p.UserAgent,
		Timeout:   config.Dur(p.Timeout, 10*time.Second),
	}
}

func mapEndpoints(cfg *config.Config) poster.Endpoints {
	return poster.Endpoints{Bing: cfg.Poster.BingEndpoint, TMDB: cfg.Poster.TMDBEndpoint}
}

func mapRender(cfg *config.Config) render.Config {
	r := cfg.Render
	return render.Config{
		Size:            r.Size,
		FontSize:        float64(r.FontSize),
		WrapWidth:       r.WrapWidth,
		Footer:          r.Footer,
		Quality:         r.Quality,
		FontPath:        r.FontPath,
		DownloadTimeout: config.Dur(r.DownloadTimeout, 15*time.Second),
	}
}

func mapBroadcast(cfg *config.Config) broadcast.Config {
	b := cfg.Broadcast
	return broadcast.Config{
		RatePerSec:       b.RatePerSec,
		SendTimeout:      config.Dur(b.SendTimeout, 30*time.Second),
		PruneUnreachable: b.PruneUnreachable,
	}
}

func mapStatus(cfg *config.Config) status.Config {
	s := cfg.Status
	return status.Config{Enabled: s.Enabled, Addr: s.Addr, Token: s.Token, Pprof: s.Pprof}
}
