package config

// Config is the full bot configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m"). Every field is optional; omitted
// values fall back to the defaults listed on each section.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Content   ContentConfig   `json:"content"`
	Poster    PosterConfig    `json:"poster"`
	Caption   CaptionConfig   `json:"caption"`
	Render    RenderConfig    `json:"render"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Status    StatusConfig    `json:"status"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminChatID is the chat or user ID allowed to run admin commands. It is
	// also subscribed on startup.
	AdminChatID string `json:"admin_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards records at or above MinLevel to the admin chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the subscriber store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./nelculobot.db" }
//
// Defaults: driver "file", subscribers_path "subscribers.json",
// state_path "state.json", redis_addr "127.0.0.1:6379",
// redis_key "nelculobot:subscribers".
type StorageConfig struct {
	Driver          string `json:"driver"`
	SubscribersPath string `json:"subscribers_path,omitempty"`
	StatePath       string `json:"state_path,omitempty"`

	// Path is the sqlite database file.
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisKey      string `json:"redis_key,omitempty"`
}

type ScheduleConfig struct {
	// IntervalMinutes is the default when no interval has been persisted.
	IntervalMinutes int `json:"interval_minutes"`
	// InitialDelay is the wait before the first fire after every (re)arm.
	InitialDelay string `json:"initial_delay,omitempty"`
	// CycleTimeout bounds one selection-render-dispatch cycle. "0s" disables it.
	CycleTimeout string `json:"cycle_timeout,omitempty"`
}

type ContentConfig struct {
	TMDB TMDBConfig `json:"tmdb"`
	// LocalFiles are JSON arrays of titles (movies.json, tv_series.json).
	LocalFiles   []string `json:"local_files,omitempty"`
	Denylist     []string `json:"denylist,omitempty"`
	DefaultTitle string   `json:"default_title,omitempty"`
}

// TMDBConfig configures the remote catalog. The source is skipped when APIKey is empty.
type TMDBConfig struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url,omitempty"`
	ImageBase string `json:"image_base,omitempty"`
	Language  string `json:"language,omitempty"`
	MaxPages  int    `json:"max_pages,omitempty"`
	Timeout   string `json:"timeout,omitempty"`

	MaxAttempts     int      `json:"max_attempts,omitempty"`
	RecencySkip     *float64 `json:"recency_skip,omitempty"`
	RecentSinceYear int      `json:"recent_since_year,omitempty"`

	BreakerTrip       int    `json:"breaker_trip,omitempty"`
	BreakerCooldown   string `json:"breaker_cooldown,omitempty"`
	BreakerMaxBackoff string `json:"breaker_max_cooldown,omitempty"`
}

// PosterConfig drives the web poster search used when the catalog has no
// poster. Providers are tried in order: "bing" (image search keyed on the
// title plus SearchSuffix) and "tmdb" (TMDB website search page).
type PosterConfig struct {
	// SearchEnabled turns on the web search fallback. Nil means enabled.
	SearchEnabled *bool    `json:"search_enabled,omitempty"`
	Providers     []string `json:"providers,omitempty"`
	SearchSuffix  string   `json:"search_suffix,omitempty"`
	BingEndpoint  string   `json:"bing_endpoint,omitempty"`
	TMDBEndpoint  string   `json:"tmdb_endpoint,omitempty"`
	UserAgent     string   `json:"user_agent,omitempty"`
	Timeout       string   `json:"timeout,omitempty"`
}

type CaptionConfig struct {
	// Strategy is "suffix" (default) or "insert".
	Strategy string `json:"strategy,omitempty"`
}

type RenderConfig struct {
	Size            int    `json:"size,omitempty"`
	FontSize        int    `json:"font_size,omitempty"`
	FontPath        string `json:"font_path,omitempty"`
	Footer          string `json:"footer,omitempty"`
	WrapWidth       int    `json:"wrap_width,omitempty"`
	Quality         int    `json:"quality,omitempty"`
	DownloadTimeout string `json:"download_timeout,omitempty"`
}

type BroadcastConfig struct {
	RatePerSec       int    `json:"rate_per_sec,omitempty"`
	SendTimeout      string `json:"send_timeout,omitempty"`
	PruneUnreachable bool   `json:"prune_unreachable,omitempty"`
}

// StatusConfig controls the optional HTTP status surface. Bind to localhost
// unless a reverse proxy sits in front.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	// Token, when set, is required as "Authorization: Bearer <token>" or
	// ?token=. A non-loopback Addr without a token refuses to start.
	Token string `json:"token,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}
