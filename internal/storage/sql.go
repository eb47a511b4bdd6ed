package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const (
	tableUsers    = "users"
	tableAdmins   = "admins"
	tableBanned   = "banned"
	tableSettings = "settings"
	tableArchive  = "archive"
	tableAudit    = "audit"

	defaultPGConns = 10
)

// sqlStore backs both sqlite and postgres. Only the placeholder format differs.
type sqlStore struct {
	db     *sqlx.DB
	sb     sq.StatementBuilderType
	log    logx.Logger
	driver string
}

type archiveRow struct {
	MsgID     int64  `db:"msg_id"`
	Kind      string `db:"kind"`
	Body      string `db:"body"`
	FileName  string `db:"file_name"`
	MediaType string `db:"media_type"`
	Caption   string `db:"caption"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return newSQLStore(db, "sqlite", sq.Question, log)
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = defaultPGConns
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns / 2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newSQLStore(db, "postgres", sq.Dollar, log)
}

func newSQLStore(db *sqlx.DB, driver string, ph sq.PlaceholderFormat, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(ph),
		log:    log,
		driver: driver,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", driver, err)
	}
	log.Debug("sql store ready")
	return s, nil
}

func errorSQLBuild(err error) error {
	return fmt.Errorf("failed to build sql query, %w", err)
}

func (s *sqlStore) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return 0, errorSQLBuild(err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) insertID(ctx context.Context, table, tsColumn string, id int64) (bool, error) {
	n, err := s.exec(ctx, s.sb.Insert(table).
		Columns("id", tsColumn).
		Values(id, time.Now().Unix()).
		Suffix("ON CONFLICT DO NOTHING"))
	return n > 0, err
}

func (s *sqlStore) deleteID(ctx context.Context, table string, id int64) (bool, error) {
	n, err := s.exec(ctx, s.sb.Delete(table).Where(sq.Eq{"id": id}))
	return n > 0, err
}

func (s *sqlStore) listIDs(ctx context.Context, table string) ([]int64, error) {
	q, args, err := s.sb.Select("id").From(table).OrderBy("id").ToSql()
	if err != nil {
		return nil, errorSQLBuild(err)
	}
	out := []int64{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) hasID(ctx context.Context, table string, id int64) (bool, error) {
	q, args, err := s.sb.Select("1").From(table).Where(sq.Eq{"id": id}).Limit(1).ToSql()
	if err != nil {
		return false, errorSQLBuild(err)
	}
	var one int
	err = s.db.GetContext(ctx, &one, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqlStore) count(ctx context.Context, table string) (int, error) {
	q, args, err := s.sb.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, errorSQLBuild(err)
	}
	var n int
	err = s.db.GetContext(ctx, &n, q, args...)
	return n, err
}

func (s *sqlStore) AddUser(ctx context.Context, id int64) (bool, error) {
	return s.insertID(ctx, tableUsers, "joined_at", id)
}

func (s *sqlStore) RemoveUser(ctx context.Context, id int64) (bool, error) {
	return s.deleteID(ctx, tableUsers, id)
}

func (s *sqlStore) ListUsers(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, tableUsers)
}

func (s *sqlStore) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, tableUsers)
}

func (s *sqlStore) AddAdmin(ctx context.Context, id int64) (bool, error) {
	return s.insertID(ctx, tableAdmins, "added_at", id)
}

func (s *sqlStore) RemoveAdmin(ctx context.Context, id int64) (bool, error) {
	return s.deleteID(ctx, tableAdmins, id)
}

func (s *sqlStore) ListAdmins(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, tableAdmins)
}

func (s *sqlStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	return s.hasID(ctx, tableAdmins, id)
}

func (s *sqlStore) Ban(ctx context.Context, id int64) (bool, error) {
	return s.insertID(ctx, tableBanned, "banned_at", id)
}

func (s *sqlStore) Unban(ctx context.Context, id int64) (bool, error) {
	return s.deleteID(ctx, tableBanned, id)
}

func (s *sqlStore) UnbanAll(ctx context.Context) (int, error) {
	n, err := s.exec(ctx, s.sb.Delete(tableBanned))
	return int(n), err
}

func (s *sqlStore) ListBanned(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, tableBanned)
}

func (s *sqlStore) IsBanned(ctx context.Context, id int64) (bool, error) {
	return s.hasID(ctx, tableBanned, id)
}

func (s *sqlStore) GetSetting(ctx context.Context, name string) (string, bool, error) {
	q, args, err := s.sb.Select("value").From(tableSettings).Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return "", false, errorSQLBuild(err)
	}
	var v string
	err = s.db.GetContext(ctx, &v, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqlStore) PutSetting(ctx context.Context, name, value string) error {
	_, err := s.exec(ctx, s.sb.Insert(tableSettings).
		Columns("name", "value").
		Values(name, value).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = excluded.value"))
	return err
}

func (s *sqlStore) PutArchive(ctx context.Context, msgID int, c kit.Content) error {
	_, err := s.exec(ctx, s.sb.Insert(tableArchive).
		Columns("msg_id", "kind", "body", "file_name", "media_type", "caption", "indexed_at").
		Values(msgID, string(c.Kind), c.Text, c.FileName, c.MediaType, c.Caption, time.Now().Unix()).
		Suffix(`ON CONFLICT (msg_id) DO UPDATE SET kind = excluded.kind, body = excluded.body,
			file_name = excluded.file_name, media_type = excluded.media_type,
			caption = excluded.caption, indexed_at = excluded.indexed_at`))
	return err
}

func (s *sqlStore) LookupArchive(ctx context.Context, ids []int) (map[int]kit.Content, error) {
	out := make(map[int]kit.Content, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := s.sb.Select("msg_id", "kind", "body", "file_name", "media_type", "caption").
		From(tableArchive).
		Where(sq.Eq{"msg_id": ids}).
		ToSql()
	if err != nil {
		return nil, errorSQLBuild(err)
	}
	var rows []archiveRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[int(r.MsgID)] = kit.Content{
			Kind:      kit.ContentKind(r.Kind),
			Text:      r.Body,
			FileName:  r.FileName,
			MediaType: r.MediaType,
			Caption:   r.Caption,
		}
	}
	return out, nil
}

func (s *sqlStore) CountArchive(ctx context.Context) (int, error) {
	return s.count(ctx, tableArchive)
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.exec(ctx, s.sb.Insert(tableAudit).
		Columns("at_unix", "actor_id", "actor_username", "chat_id", "command", "target", "ok", "err", "took_ms", "meta").
		Values(e.At.Unix(), e.ActorID, e.ActorUsername, e.ChatID, e.Command, e.Target, ok, e.Error, e.TookMS, e.MetaJSON))
	return err
}

func (s *sqlStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	return s.exec(ctx, s.sb.Delete(tableAudit).Where(sq.Lt{"at_unix": before.Unix()}))
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
