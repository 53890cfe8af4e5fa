package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultIntervalMinutes = 30
	MaxIntervalMinutes     = 7 * 24 * 60
	DefaultInitialDelay    = 10 * time.Second
	DefaultTitle           = "Titolo di esempio"
	DefaultFooter          = "@NelCuloBot"
	DefaultStatusAddr      = "127.0.0.1:8080"
)

var ErrMissingToken = errors.New("telegram token is required (TELEGRAM_TOKEN)")

// Normalize fills omitted fields with defaults. It never overwrites a value
// that was set.
func (c *Config) Normalize() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Telegram.MinLevel == "" {
		c.Logging.Telegram.MinLevel = "warn"
	}
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}

	s := &c.Storage
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == "" {
		s.Driver = "file"
	}
	def(&s.SubscribersPath, "subscribers.json")
	def(&s.StatePath, "state.json")
	def(&s.Path, "nelculobot.db")
	def(&s.RedisAddr, "127.0.0.1:6379")
	def(&s.RedisKey, "nelculobot:subscribers")

	if c.Schedule.IntervalMinutes <= 0 {
		c.Schedule.IntervalMinutes = DefaultIntervalMinutes
	}
	def(&c.Schedule.InitialDelay, DefaultInitialDelay.String())
	def(&c.Schedule.CycleTimeout, "10m")

	t := &c.Content.TMDB
	def(&t.BaseURL, "https://api.themoviedb.org/3")
	def(&t.ImageBase, "https://image.tmdb.org/t/p/w780")
	def(&t.Language, "it-IT")
	def(&t.Timeout, "10s")
	if t.MaxPages <= 0 {
		t.MaxPages = 20
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 50
	}
	if t.RecencySkip == nil {
		v := 0.7
		t.RecencySkip = &v
	}
	if t.RecentSinceYear <= 0 {
		t.RecentSinceYear = 1990
	}
	if t.BreakerTrip <= 0 {
		t.BreakerTrip = 5
	}
	def(&t.BreakerCooldown, "30s")
	def(&t.BreakerMaxBackoff, "10m")
	if len(c.Content.LocalFiles) == 0 {
		c.Content.LocalFiles = []string{"movies.json", "tv_series.json"}
	}
	def(&c.Content.DefaultTitle, DefaultTitle)

	p := &c.Poster
	if p.SearchEnabled == nil {
		v := true
		p.SearchEnabled = &v
	}
	if len(p.Providers) == 0 {
		p.Providers = []string{"bing", "tmdb"}
	}
	def(&p.BingEndpoint, "https://www.bing.com/images/search")
	def(&p.TMDBEndpoint, "https://www.themoviedb.org/search")
	def(&p.SearchSuffix, "locandina film")
	def(&p.UserAgent, "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	def(&p.Timeout, "10s")

	c.Caption.Strategy = strings.ToLower(strings.TrimSpace(c.Caption.Strategy))
	def(&c.Caption.Strategy, "suffix")

	r := &c.Render
	if r.Size <= 0 {
		r.Size = 1080
	}
	if r.FontSize <= 0 {
		r.FontSize = 110
	}
	if r.WrapWidth <= 0 {
		r.WrapWidth = 12
	}
	if r.Quality <= 0 || r.Quality > 100 {
		r.Quality = 95
	}
	def(&r.Footer, DefaultFooter)
	def(&r.DownloadTimeout, "15s")

	if c.Broadcast.RatePerSec <= 0 {
		c.Broadcast.RatePerSec = 20
	}
	def(&c.Broadcast.SendTimeout, "30s")

	def(&c.Status.Addr, DefaultStatusAddr)
}

// Validate reports the first invalid field. It expects a normalized config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	switch c.Storage.Driver {
	case "file", "sqlite", "redis":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	for _, p := range c.Poster.Providers {
		switch p {
		case "bing", "tmdb":
		default:
			return fmt.Errorf("poster.providers: unknown provider %q", p)
		}
	}
	if n := c.Schedule.IntervalMinutes; n < 1 || n > MaxIntervalMinutes {
		return fmt.Errorf("schedule.interval_minutes: %d out of range 1..%d", n, MaxIntervalMinutes)
	}
	if v := *c.Content.TMDB.RecencySkip; v < 0 || v > 1 {
		return fmt.Errorf("content.tmdb.recency_skip: %v out of range 0..1", v)
	}

	durations := map[string]string{
		"telegram.poll_timeout":             c.Telegram.PollTimeout,
		"storage.busy_timeout":              c.Storage.BusyTimeout,
		"schedule.initial_delay":            c.Schedule.InitialDelay,
		"schedule.cycle_timeout":            c.Schedule.CycleTimeout,
		"content.tmdb.timeout":              c.Content.TMDB.Timeout,
		"content.tmdb.breaker_cooldown":     c.Content.TMDB.BreakerCooldown,
		"content.tmdb.breaker_max_cooldown": c.Content.TMDB.BreakerMaxBackoff,
		"poster.timeout":                    c.Poster.Timeout,
		"render.download_timeout":           c.Render.DownloadTimeout,
		"broadcast.send_timeout":            c.Broadcast.SendTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func def(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}
