package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults applied by Resolve when a field is omitted.
const (
	DefaultPollTimeout    = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultAutoDelete     = 600 * time.Second
	DefaultProgressEvery  = 3 * time.Second
	DefaultAuditRetention = 720 * time.Hour
	DefaultPingSpec       = "@every 1m"
	DefaultAuditPruneSpec = "@daily"

	// MaxBatchSize is the largest bulk read the archive store serves.
	MaxBatchSize = 100
)

// Runtime holds the typed values derived from a Config. Components consume
// Runtime so duration strings are parsed once and in one place.
type Runtime struct {
	PollTimeout    time.Duration
	RequestTimeout time.Duration

	DeliveryPause   time.Duration
	DeliveryMaxWait time.Duration
	AutoDelete      time.Duration
	// AutoDeleteSet is true when delivery.auto_delete was given explicitly.
	AutoDeleteSet bool

	BroadcastMaxWait time.Duration
	ProgressEvery    time.Duration

	BusyTimeout time.Duration

	HealthAddr  string
	ReadTimeout time.Duration
	IdleTimeout time.Duration

	AuditRetention time.Duration
	PingSpec       string
	AuditPruneSpec string
}

// Resolve validates cfg and parses its durations.
func Resolve(cfg *Config) (Runtime, error) {
	if cfg == nil {
		return Runtime{}, errors.New("config is nil")
	}
	var (
		rt   Runtime
		errs []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	rt.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout)
	rt.RequestTimeout = dur("telegram.request_timeout", cfg.Telegram.RequestTimeout, DefaultRequestTimeout)
	rt.DeliveryPause = dur("delivery.pause", cfg.Delivery.Pause, 0)
	rt.DeliveryMaxWait = dur("delivery.max_wait", cfg.Delivery.MaxWait, 0)

	rt.AutoDeleteSet = strings.TrimSpace(cfg.Delivery.AutoDelete) != ""
	if rt.AutoDeleteSet {
		d, err := ParseDurationField("delivery.auto_delete", cfg.Delivery.AutoDelete)
		if err != nil {
			errs = append(errs, err)
		}
		rt.AutoDelete = d
	} else {
		rt.AutoDelete = DefaultAutoDelete
	}

	rt.BroadcastMaxWait = dur("broadcast.max_wait", cfg.Broadcast.MaxWait, 0)
	rt.ProgressEvery = dur("broadcast.progress_every", cfg.Broadcast.ProgressEvery, DefaultProgressEvery)
	rt.BusyTimeout = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	rt.ReadTimeout = dur("health.read_timeout", cfg.Health.ReadTimeout, 10*time.Second)
	rt.IdleTimeout = dur("health.idle_timeout", cfg.Health.IdleTimeout, 60*time.Second)
	rt.AuditRetention = dur("maintenance.audit_retention", cfg.Maintenance.AuditRetention, DefaultAuditRetention)

	rt.HealthAddr = strings.TrimSpace(cfg.Health.Addr)
	if rt.HealthAddr == "" {
		rt.HealthAddr = ":" + DefaultPort
	}
	rt.PingSpec = orString(cfg.Maintenance.PingSpec, DefaultPingSpec)
	rt.AuditPruneSpec = orString(cfg.Maintenance.AuditPruneSpec, DefaultAuditPruneSpec)

	errs = append(errs, validate(cfg)...)
	if len(errs) > 0 {
		return Runtime{}, errors.Join(errs...)
	}
	return rt, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvToken))
	}
	if cfg.Telegram.OwnerID <= 0 {
		errs = append(errs, fmt.Errorf("telegram.owner_id must be a positive user id (or set %s)", EnvOwnerID))
	}
	if cfg.Telegram.ChannelID == 0 {
		errs = append(errs, fmt.Errorf("telegram.channel_id is required (or set %s)", EnvChannelID))
	} else if cfg.Telegram.ChannelID > 0 {
		errs = append(errs, errors.New("telegram.channel_id must be a channel id (-100...)"))
	}
	for _, id := range cfg.Telegram.Admins {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.admin_ids: invalid id %d", id))
		}
	}
	if cfg.Link.MaxSpan < 0 {
		errs = append(errs, errors.New("link.max_span must be >= 0"))
	}
	if cfg.Delivery.BatchSize < 0 || cfg.Delivery.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("delivery.batch_size must be in [0, %d]", MaxBatchSize))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Delivery.ParseMode)) {
	case "", "html", "markdown", "markdownv2":
	default:
		errs = append(errs, fmt.Errorf("delivery.parse_mode: unsupported %q", cfg.Delivery.ParseMode))
	}
	b := cfg.Broadcast
	if b.RatePerSec < 0 || b.PlainChunk < 0 || b.HeavyChunk < 0 || b.Workers < 0 || b.QueueSize < 0 {
		errs = append(errs, errors.New("broadcast: numeric settings must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem", "file", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for postgres (or set %s)", EnvDatabase))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}
	return errs
}

func orString(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
