package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds the environment overrides. Empty or zero values leave the file
// config untouched.
type Env struct {
	TelegramToken   string `envconfig:"TELEGRAM_TOKEN"`
	AdminChatID     string `envconfig:"ADMIN_CHAT_ID"`
	IntervalMinutes int    `envconfig:"INTERVAL_MINUTES"`
	TMDBAPIKey      string `envconfig:"TMDB_API_KEY"`
	SubscribersFile string `envconfig:"SUBSCRIBERS_FILE"`
	StateFile       string `envconfig:"STATE_FILE"`
	StorageDriver   string `envconfig:"STORAGE_DRIVER"`
	RedisAddr       string `envconfig:"REDIS_ADDR"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	StatusAddr      string `envconfig:"STATUS_ADDR"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

func ReadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, fmt.Errorf("env: %w", err)
	}
	return e, nil
}

// Apply overlays non-empty environment values onto cfg.
func (e Env) Apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, e.TelegramToken)
	set(&cfg.Telegram.AdminChatID, e.AdminChatID)
	set(&cfg.Content.TMDB.APIKey, e.TMDBAPIKey)
	set(&cfg.Storage.SubscribersPath, e.SubscribersFile)
	set(&cfg.Storage.StatePath, e.StateFile)
	set(&cfg.Storage.Driver, e.StorageDriver)
	set(&cfg.Storage.RedisAddr, e.RedisAddr)
	set(&cfg.Logging.Level, e.LogLevel)
	if strings.TrimSpace(e.StatusAddr) != "" {
		cfg.Status.Enabled = true
		cfg.Status.Addr = strings.TrimSpace(e.StatusAddr)
	}
	if e.IntervalMinutes > 0 {
		cfg.Schedule.IntervalMinutes = e.IntervalMinutes
	}
}
