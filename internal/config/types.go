package config

// Config is the on-disk configuration (config.json or config.yaml).
//
// All durations are Go duration strings ("500ms", "10s", "24h"). Values that
// deployments usually inject through the environment (token, owner, channel,
// database URL, port) are overridden by ApplyEnv after parsing.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Delivery    DeliveryConfig    `json:"delivery"`
	Link        LinkConfig        `json:"link"`
	Broadcast   BroadcastConfig   `json:"broadcast"`
	Access      AccessConfig      `json:"access"`
	Health      HealthConfig      `json:"health,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token   string  `json:"token"`
	OwnerID int64   `json:"owner_id"`
	Admins  []int64 `json:"admin_ids,omitempty"`

	// ChannelID is the archival channel (-100...). The bot must be an admin there.
	ChannelID       int64  `json:"channel_id"`
	ChannelUsername string `json:"channel_username,omitempty"`

	// PollTimeout is the long-poll timeout. Default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RequestTimeout bounds one bot-API call. Default "30s".
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the directory backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/filegate.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://u:p@db/filegate?sslmode=disable" }
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"` // secret, never logged
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

type DeliveryConfig struct {
	// CaptionTemplate replaces captions of labeled files. Placeholders:
	// {filename}, {previouscaption}. Empty keeps the original caption.
	CaptionTemplate string `json:"caption_template,omitempty"`
	ProtectContent  bool   `json:"protect_content,omitempty"`
	// Pause between two copies of one batch. Default "0s".
	Pause     string `json:"pause,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
	// MaxWait caps honoring a rate-limit hint. "0s" honors any hint.
	MaxWait string `json:"max_wait,omitempty"`
	// AutoDelete is the default expiry for delivered batches, "0s" disables it.
	// The value persisted by /auto_del wins over this one.
	AutoDelete string `json:"auto_delete,omitempty"`
	// BatchSize is the per-call fetch size of the retriever. Default and maximum 100.
	BatchSize int `json:"batch_size,omitempty"`
}

type LinkConfig struct {
	// MaxSpan caps how many ids one range token may cover. Default 10000.
	MaxSpan int64 `json:"max_span,omitempty"`
	// Host of generated deep links. Default "t.me".
	Host string `json:"host,omitempty"`
	// DisableChannelButton stops the bot from adding a Share button to
	// archived channel posts.
	DisableChannelButton bool `json:"disable_channel_button,omitempty"`
}

type BroadcastConfig struct {
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	PlainChunk int    `json:"plain_chunk,omitempty"`
	HeavyChunk int    `json:"heavy_chunk,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	MaxWait    string `json:"max_wait,omitempty"`
	// ProgressEvery throttles progress edits. Default "3s".
	ProgressEvery string `json:"progress_every,omitempty"`
}

type AccessConfig struct {
	// PublicLinks lets any user follow a deep link. When false only admins can.
	// A pointer distinguishes "omitted" (default true) from an explicit false.
	PublicLinks *bool `json:"public_links,omitempty"`
	// AutoRegister records every /start sender as a broadcast recipient. Default true.
	AutoRegister *bool `json:"auto_register,omitempty"`
}

// HealthConfig controls the HTTP health endpoint (/healthz, /metrics and
// optionally /debug/pprof/).
//
// Security note: pprof is only mounted when Pprof is true, and then requires
// Token as a bearer token unless the listener is loopback.
type HealthConfig struct {
	Disabled bool   `json:"disabled,omitempty"`
	Addr     string `json:"addr,omitempty"` // default ":8000" (or ":$PORT")
	Pprof    bool   `json:"pprof,omitempty"`
	Token    string `json:"token,omitempty"` // secret, never logged

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// MaintenanceConfig schedules background jobs with cron specs
// (standard 5 fields or descriptors such as "@every 1m").
type MaintenanceConfig struct {
	Disabled       bool   `json:"disabled,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	PingSpec       string `json:"ping_spec,omitempty"`       // default "@every 1m"
	AuditPruneSpec string `json:"audit_prune_spec,omitempty"` // default "@daily"
	// AuditRetention keeps audit rows younger than this. Default "720h".
	AuditRetention string `json:"audit_retention,omitempty"`
}

// PublicLinks reports the effective access.public_links value.
func (c *Config) PublicLinks() bool {
	if c == nil || c.Access.PublicLinks == nil {
		return true
	}
	return *c.Access.PublicLinks
}

func (c *Config) AutoRegister() bool {
	if c == nil || c.Access.AutoRegister == nil {
		return true
	}
	return *c.Access.AutoRegister
}

// AdminIDs returns the configured admins; the owner alone when none are set.
func (c *Config) AdminIDs() []int64 {
	if c == nil {
		return nil
	}
	if len(c.Telegram.Admins) == 0 && c.Telegram.OwnerID != 0 {
		return []int64{c.Telegram.OwnerID}
	}
	return append([]int64(nil), c.Telegram.Admins...)
}
