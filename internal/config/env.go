package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Lookup resolves an environment variable.
type Lookup func(key string) (string, bool)

// Environment variables recognised by ApplyEnv. APP_ID and API_HASH are
// accepted for compatibility with MTProto deployments and ignored.
const (
	EnvToken     = "TG_BOT_TOKEN"
	EnvChannelID = "CHANNEL_ID"
	EnvOwnerID   = "OWNER_ID"
	EnvAdminIDs  = "ADMIN_IDS"
	EnvDatabase  = "DATABASE_URL"
	EnvDBName    = "DATABASE_NAME"
	EnvPort      = "PORT"
	EnvLogLevel  = "LOG_LEVEL"

	EnvDisableChannelButton = "DISABLE_CHANNEL_BUTTON"
)

const DefaultPort = "8000"

// EnvLookup returns a Lookup that prefers the process environment and falls
// back to the given .env files. Missing files are ignored.
func EnvLookup(dotenv ...string) (Lookup, error) {
	vars := map[string]string{}
	for _, p := range dotenv {
		m, err := godotenv.Read(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range m {
			if _, ok := vars[k]; !ok {
				vars[k] = v
			}
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides cfg with the deployment environment. Empty values are
// treated as unset.
func ApplyEnv(cfg *Config, lookup Lookup) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvChannelID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvChannelID, err)
		}
		cfg.Telegram.ChannelID = id
	}
	if v, ok := get(EnvOwnerID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOwnerID, err)
		}
		cfg.Telegram.OwnerID = id
	}
	if v, ok := get(EnvAdminIDs); ok {
		ids, err := ParseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAdminIDs, err)
		}
		cfg.Telegram.Admins = ids
	}
	if v, ok := get(EnvDatabase); ok {
		applyDatabaseURL(&cfg.Storage, v)
	}
	if v, ok := get(EnvDBName); ok && cfg.Storage.Path == "" && sqliteLike(cfg.Storage.Driver) {
		cfg.Storage.Path = "./data/" + v + ".db"
	}
	if v, ok := get(EnvPort); ok {
		if _, err := strconv.ParseUint(v, 10, 16); err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Health.Addr = ":" + v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := get(EnvDisableChannelButton); ok {
		off, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDisableChannelButton, err)
		}
		cfg.Link.DisableChannelButton = off
	}
	return nil
}

func applyDatabaseURL(s *StorageConfig, v string) {
	lower := strings.ToLower(v)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		s.Driver = "postgres"
		s.DSN = v
	case strings.HasPrefix(lower, "sqlite://"):
		s.Driver = "sqlite"
		s.Path = v[len("sqlite://"):]
	case strings.HasPrefix(lower, "file://"):
		s.Driver = "file"
		s.Path = v[len("file://"):]
	default:
		// Anything else is taken as a sqlite path.
		s.Driver = "sqlite"
		s.Path = v
	}
}

func sqliteLike(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return true
	}
	return false
}

// ParseIDList parses "1, 2 3" into ids. Duplicates are dropped, order is kept.
func ParseIDList(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' || r == '\t' })
	out := make([]int64, 0, len(fields))
	seen := make(map[int64]struct{}, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", f)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
