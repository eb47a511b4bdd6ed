package app

import (
	"testing"
	"time"

	"filegate/internal/config"
)

func resolved(t *testing.T, cfg *config.Config) config.Runtime {
	t.Helper()
	rt, err := config.Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return rt
}

func baseConfig() *config.Config {
	return &config.Config{Telegram: config.TelegramConfig{
		Token:     "123:abc",
		OwnerID:   1,
		ChannelID: -1001234567890,
	}}
}

func TestMapStorageDefaultsToLocalSQLite(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	sc := mapStorageConfig(cfg, resolved(t, cfg))
	if sc.Path != defaultDataPath || sc.Driver != "" {
		t.Fatalf("storage = %+v", sc)
	}

	cfg.Storage = config.StorageConfig{Driver: "Postgres", DSN: "postgres://u@db/filegate"}
	sc = mapStorageConfig(cfg, resolved(t, cfg))
	if sc.Driver != "postgres" || sc.Path != "" {
		t.Fatalf("postgres storage = %+v", sc)
	}
}

func TestMapHandlerSettings(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	off := false
	cfg.Access.PublicLinks = &off
	cfg.Telegram.ChannelUsername = "@FileArchive"
	cfg.Link.Host = "telegram.me"

	s := mapHandlerSettings(cfg, resolved(t, cfg))
	if s.PublicLinks || !s.AutoRegister {
		t.Fatalf("access = %+v", s)
	}
	if s.ChannelUsername != "FileArchive" || s.LinkHost != "telegram.me" || s.ChannelID != cfg.Telegram.ChannelID {
		t.Fatalf("settings = %+v", s)
	}
	if s.ProgressEvery != config.DefaultProgressEvery {
		t.Fatalf("progress = %v", s.ProgressEvery)
	}
	if !s.ChannelButton {
		t.Fatal("channel button should default on")
	}
	cfg.Link.DisableChannelButton = true
	if mapHandlerSettings(cfg, resolved(t, cfg)).ChannelButton {
		t.Fatal("disable_channel_button ignored")
	}
}

func TestMapDeliveryConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Delivery = config.DeliveryConfig{
		CaptionTemplate: "<b>{filename}</b>",
		ParseMode:       "html",
		Pause:           "250ms",
		ProtectContent:  true,
	}
	d := mapDeliveryConfig(cfg, resolved(t, cfg))
	if d.ParseMode != "HTML" || d.Pause != 250*time.Millisecond || !d.ProtectContent {
		t.Fatalf("delivery = %+v", d)
	}
	if parseMode("markdownv2") != "MarkdownV2" || parseMode("") != "" {
		t.Fatal("parse mode mapping")
	}
}

func TestMapMaintenanceAndHealth(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Health = config.HealthConfig{Addr: "127.0.0.1:9100", Pprof: true}
	rt := resolved(t, cfg)

	m := mapMaintenanceConfig(cfg, rt)
	if !m.Enabled || m.PingSpec != config.DefaultPingSpec || m.AuditRetention != config.DefaultAuditRetention {
		t.Fatalf("maintenance = %+v", m)
	}
	h := mapHealthConfig(cfg, rt)
	if !h.Enabled || h.Addr != "127.0.0.1:9100" || !h.Pprof {
		t.Fatalf("health = %+v", h)
	}
}
