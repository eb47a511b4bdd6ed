package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "filegate/pkg/logx"
)

// hashBytes returns a stable 64-bit hash of b. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// SummarizeConfigChange returns the changed top-level sections and safe
// attrs for logging. Secrets (token, dsn, health token) are reported only
// as "set" flags.
//
// restart lists changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := oldCfg, newCfg

	mark := func(section string, needsRestart bool, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if needsRestart {
			restart = append(restart, section)
		}
	}

	// Token and channel are bound at startup; owner/admins apply live.
	if o.Telegram.Token != n.Telegram.Token || o.Telegram.ChannelID != n.Telegram.ChannelID ||
		o.Telegram.PollTimeout != n.Telegram.PollTimeout || o.Telegram.RequestTimeout != n.Telegram.RequestTimeout {
		mark("telegram", true,
			logx.Bool("telegram.token_changed", o.Telegram.Token != n.Telegram.Token),
			logx.Int64("telegram.channel_id", n.Telegram.ChannelID),
		)
	} else if o.Telegram.OwnerID != n.Telegram.OwnerID || !reflect.DeepEqual(o.AdminIDs(), n.AdminIDs()) ||
		!strings.EqualFold(o.Telegram.ChannelUsername, n.Telegram.ChannelUsername) {
		mark("telegram", false,
			logx.Int64("telegram.owner_id", n.Telegram.OwnerID),
			logx.Int("telegram.admin_count", len(n.AdminIDs())),
		)
	}

	if !reflect.DeepEqual(o.Logging, n.Logging) {
		mark("logging", false,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
		)
	}

	if o.Storage.Driver != n.Storage.Driver || o.Storage.Path != n.Storage.Path ||
		o.Storage.DSN != n.Storage.DSN || o.Storage.BusyTimeout != n.Storage.BusyTimeout ||
		o.Storage.MaxOpenConns != n.Storage.MaxOpenConns {
		mark("storage", true,
			logx.String("storage.driver", n.Storage.Driver),
			logx.Bool("storage.dsn_set", n.Storage.DSN != ""),
		)
	}

	if o.Delivery != n.Delivery {
		mark("delivery", false,
			logx.Bool("delivery.protect_content", n.Delivery.ProtectContent),
			logx.Bool("delivery.caption_template_set", n.Delivery.CaptionTemplate != ""),
			logx.String("delivery.pause", n.Delivery.Pause),
			logx.String("delivery.auto_delete", n.Delivery.AutoDelete),
		)
	}

	if o.Link != n.Link {
		mark("link", false,
			logx.Int64("link.max_span", n.Link.MaxSpan),
			logx.String("link.host", n.Link.Host),
			logx.Bool("link.disable_channel_button", n.Link.DisableChannelButton),
		)
	}

	if o.Broadcast != n.Broadcast {
		// Worker count is fixed once the engine started.
		mark("broadcast", o.Broadcast.Workers != n.Broadcast.Workers || o.Broadcast.QueueSize != n.Broadcast.QueueSize,
			logx.Int("broadcast.rate_per_sec", n.Broadcast.RatePerSec),
			logx.Int("broadcast.plain_chunk", n.Broadcast.PlainChunk),
			logx.Int("broadcast.heavy_chunk", n.Broadcast.HeavyChunk),
		)
	}

	if o.PublicLinks() != n.PublicLinks() || o.AutoRegister() != n.AutoRegister() {
		mark("access", false,
			logx.Bool("access.public_links", n.PublicLinks()),
			logx.Bool("access.auto_register", n.AutoRegister()),
		)
	}

	if o.Health != n.Health {
		mark("health", true,
			logx.String("health.addr", n.Health.Addr),
			logx.Bool("health.pprof", n.Health.Pprof),
			logx.Bool("health.token_set", n.Health.Token != ""),
		)
	}

	if o.Maintenance != n.Maintenance {
		mark("maintenance", true,
			logx.String("maintenance.ping_spec", n.Maintenance.PingSpec),
			logx.String("maintenance.audit_prune_spec", n.Maintenance.AuditPruneSpec),
			logx.String("maintenance.audit_retention", n.Maintenance.AuditRetention),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
