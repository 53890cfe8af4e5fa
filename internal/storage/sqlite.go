package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"nelculobot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteBackend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := migrateSQLite(path, cfg)
	if isCorrupt(err) {
		// Keep the broken file for inspection and start from an empty set.
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		log.Warn("sqlite store unreadable; moving aside and starting empty",
			logx.String("path", path), logx.String("moved_to", aside), logx.Err(err))
		if rerr := moveAside(path, aside); rerr != nil {
			return nil, fmt.Errorf("sqlite move corrupt db: %w", rerr)
		}
		db, err = migrateSQLite(path, cfg)
	}
	if err != nil {
		return nil, err
	}
	return &sqliteBackend{db: db, log: log}, nil
}

func migrateSQLite(path string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return db, nil
}

func isCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

// moveAside renames the database and its WAL sidecars.
func moveAside(path, aside string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Rename(path+suffix, aside+suffix)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (b *sqliteBackend) load(ctx context.Context) (Set, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s := Set{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		s.Add(id)
	}
	return s, rows.Err()
}

// save makes the table match s in one transaction. Rows that stay keep
// their added_at.
func (b *sqliteBackend) save(ctx context.Context, s Set) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM subscribers`)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		if _, keep := s[id]; !keep {
			stale = append(stale, id)
		}
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err = rows.Close(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err = tx.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id); err != nil {
			return err
		}
	}
	for id := range s {
		if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO subscribers(id) VALUES(?)`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *sqliteBackend) close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
