package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

// ChatPrefs are the per-chat defaults set by /fiat and /source.
// Empty fields mean "use the configured default".
type ChatPrefs struct {
	ChatID    int64
	Fiat      string
	Provider  string
	UpdatedAt time.Time
}

func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := &DB{sql: sqldb}
	if err := db.migrate(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	if err := db.seed(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS global_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chat_prefs (
			chat_id INTEGER PRIMARY KEY,
			fiat TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := d.sql.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (d *DB) seed(ctx context.Context) error {
	if _, ok, err := d.GetGlobalSetting(ctx, "instance_id"); err != nil || ok {
		return err
	}
	return d.SetGlobalSetting(ctx, "instance_id", uuid.NewString())
}

// InstanceID identifies this database across restarts.
func (d *DB) InstanceID(ctx context.Context) (string, error) {
	v, _, err := d.GetGlobalSetting(ctx, "instance_id")
	return v, err
}

func (d *DB) GetChatPrefs(ctx context.Context, chatID int64) (ChatPrefs, bool, error) {
	p := ChatPrefs{ChatID: chatID}
	var updated int64
	err := d.sql.QueryRowContext(ctx, `SELECT fiat, provider, updated_at FROM chat_prefs WHERE chat_id=?`, chatID).
		Scan(&p.Fiat, &p.Provider, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	p.UpdatedAt = time.Unix(updated, 0)
	return p, true, nil
}

func (d *DB) SetChatFiat(ctx context.Context, chatID int64, fiat string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO chat_prefs(chat_id,fiat,updated_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET fiat=excluded.fiat, updated_at=excluded.updated_at`,
		chatID, fiat, time.Now().Unix())
	return err
}

func (d *DB) SetChatProvider(ctx context.Context, chatID int64, provider string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO chat_prefs(chat_id,provider,updated_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET provider=excluded.provider, updated_at=excluded.updated_at`,
		chatID, provider, time.Now().Unix())
	return err
}

func (d *DB) CountChats(ctx context.Context) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM chat_prefs`).Scan(&n)
	return n, err
}

func (d *DB) GetGlobalSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM global_settings WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (d *DB) SetGlobalSetting(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO global_settings(key,value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// BackupTo writes a consistent snapshot to dstPath, replacing any previous one.
// VACUUM INTO refuses an existing target, so it goes through a temp file.
func (d *DB) BackupTo(ctx context.Context, dstPath string) error {
	tmp := dstPath + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	escaped := strings.ReplaceAll(tmp, "'", "''")
	if _, err := d.sql.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s';", escaped)); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return os.Rename(tmp, dstPath)
}
