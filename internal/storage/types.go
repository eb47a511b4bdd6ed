package storage

import (
	"context"
	"errors"
	"time"

	kit "filegate/internal/transport"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Path is used by the file and sqlite drivers; DSN by postgres.
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Command       string    `json:"command"`
	Target        string    `json:"target,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"err,omitempty"`
	TookMS        int64     `json:"took_ms"`
	MetaJSON      string    `json:"meta,omitempty"`
}

// Store is the persistence API used by the bot.
//
// Add/Remove style methods report whether the call changed anything.
type Store interface {
	AddUser(ctx context.Context, id int64) (bool, error)
	RemoveUser(ctx context.Context, id int64) (bool, error)
	ListUsers(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (int, error)

	AddAdmin(ctx context.Context, id int64) (bool, error)
	RemoveAdmin(ctx context.Context, id int64) (bool, error)
	ListAdmins(ctx context.Context) ([]int64, error)
	IsAdmin(ctx context.Context, id int64) (bool, error)

	Ban(ctx context.Context, id int64) (bool, error)
	Unban(ctx context.Context, id int64) (bool, error)
	UnbanAll(ctx context.Context) (int, error)
	ListBanned(ctx context.Context) ([]int64, error)
	IsBanned(ctx context.Context, id int64) (bool, error)

	GetSetting(ctx context.Context, name string) (string, bool, error)
	PutSetting(ctx context.Context, name, value string) error

	PutArchive(ctx context.Context, msgID int, c kit.Content) error
	LookupArchive(ctx context.Context, ids []int) (map[int]kit.Content, error)
	CountArchive(ctx context.Context) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
