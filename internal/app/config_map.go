package app

import (
	"strings"

	"filegate/internal/archive"
	"filegate/internal/broadcast"
	"filegate/internal/config"
	"filegate/internal/delivery"
	"filegate/internal/handlers"
	"filegate/internal/maintenance"
	"filegate/internal/observability/health"
	"filegate/internal/storage"
	logx "filegate/pkg/logx"
)

const defaultDataPath = "./data/filegate.db"

func mapStorageConfig(cfg *config.Config, rt config.Runtime) storage.Config {
	sc := cfg.Storage
	out := storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  rt.BusyTimeout,
		MaxOpenConns: sc.MaxOpenConns,
	}
	switch out.Driver {
	case "", "file", "sqlite", "sqlite3":
		if out.Path == "" && out.DSN == "" {
			out.Path = defaultDataPath
		}
	}
	return out
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapRetrieverConfig(cfg *config.Config, rt config.Runtime) archive.RetrieverConfig {
	return archive.RetrieverConfig{BatchSize: cfg.Delivery.BatchSize, MaxWait: rt.DeliveryMaxWait}
}

func mapDeliveryConfig(cfg *config.Config, rt config.Runtime) delivery.Config {
	d := cfg.Delivery
	return delivery.Config{
		CaptionTemplate: d.CaptionTemplate,
		ProtectContent:  d.ProtectContent,
		Pause:           rt.DeliveryPause,
		ParseMode:       parseMode(d.ParseMode),
		MaxWait:         rt.DeliveryMaxWait,
	}
}

// parseMode maps config spelling onto Bot API parse modes.
func parseMode(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "html":
		return "HTML"
	case "markdown":
		return "Markdown"
	case "markdownv2":
		return "MarkdownV2"
	default:
		return ""
	}
}

func mapBroadcastConfig(cfg *config.Config, rt config.Runtime) broadcast.Config {
	b := cfg.Broadcast
	return broadcast.Config{
		RatePerSec: b.RatePerSec,
		PlainChunk: b.PlainChunk,
		HeavyChunk: b.HeavyChunk,
		MaxWait:    rt.BroadcastMaxWait,
		Workers:    b.Workers,
		QueueSize:  b.QueueSize,
	}
}

func mapHandlerSettings(cfg *config.Config, rt config.Runtime) handlers.Settings {
	return handlers.Settings{
		ChannelID:       cfg.Telegram.ChannelID,
		ChannelUsername: strings.TrimPrefix(strings.TrimSpace(cfg.Telegram.ChannelUsername), "@"),
		LinkHost:        cfg.Link.Host,
		PublicLinks:     cfg.PublicLinks(),
		AutoRegister:    cfg.AutoRegister(),
		ProgressEvery:   rt.ProgressEvery,
		ChannelButton:   !cfg.Link.DisableChannelButton,
	}
}

func mapHealthConfig(cfg *config.Config, rt config.Runtime) health.Config {
	return health.Config{
		Enabled:     !cfg.Health.Disabled,
		Addr:        rt.HealthAddr,
		Pprof:       cfg.Health.Pprof,
		Token:       cfg.Health.Token,
		ReadTimeout: rt.ReadTimeout,
		IdleTimeout: rt.IdleTimeout,
	}
}

func mapMaintenanceConfig(cfg *config.Config, rt config.Runtime) maintenance.Config {
	return maintenance.Config{
		Enabled:        !cfg.Maintenance.Disabled,
		Timezone:       cfg.Maintenance.Timezone,
		PingSpec:       rt.PingSpec,
		AuditPruneSpec: rt.AuditPruneSpec,
		AuditRetention: rt.AuditRetention,
	}
}
