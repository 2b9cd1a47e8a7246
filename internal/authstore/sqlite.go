package authstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"wagateway/internal/migrations"
	"wagateway/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite caps bound parameters per statement; stay well below it.
const sqliteMaxParams = 500

// SQLiteBackend emulates hashes with an (hash_key, field) keyed table.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}

	schema, err := migrations.Schema()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to read schema: %w", err))
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	return &SQLiteBackend{db: db}, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (b *SQLiteBackend) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM auth_hash WHERE hash_key = ? AND field = ?`, key, field).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (b *SQLiteBackend) HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for start := 0; start < len(fields); start += sqliteMaxParams {
		end := min(start+sqliteMaxParams, len(fields))
		chunk := fields[start:end]

		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, key)
		for _, f := range chunk {
			args = append(args, f)
		}
		query := `SELECT field, value FROM auth_hash WHERE hash_key = ? AND field IN (` + placeholders(len(chunk)) + `)`
		if err := b.collect(ctx, out, query, args...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *SQLiteBackend) HSet(ctx context.Context, key, field, value string) error {
	_, err := b.db.ExecContext(ctx, upsertQuery, key, field, value)
	return err
}

const upsertQuery = `
	INSERT INTO auth_hash (hash_key, field, value) VALUES (?, ?, ?)
	ON CONFLICT(hash_key, field) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
`

func (b *SQLiteBackend) HKeys(ctx context.Context, key string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT field FROM auth_hash WHERE hash_key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// Apply runs the batch in one SQL transaction.
func (b *SQLiteBackend) Apply(ctx context.Context, key string, mutations []Mutation) (err error) {
	if len(mutations) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback error: %v)", err, rbErr)
			}
		}
	}()

	for _, m := range mutations {
		if m.Delete {
			_, err = tx.ExecContext(ctx, `DELETE FROM auth_hash WHERE hash_key = ? AND field = ?`, key, m.Field)
		} else {
			_, err = tx.ExecContext(ctx, upsertQuery, key, m.Field, m.Value)
		}
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", m.Field, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Del(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM auth_hash WHERE hash_key = ?`, key)
	return err
}

// Keys matches with SQLite GLOB, which shares * and ? with Redis patterns.
func (b *SQLiteBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT DISTINCT hash_key FROM auth_hash WHERE hash_key GLOB ? ORDER BY hash_key`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *SQLiteBackend) HGetEach(ctx context.Context, keys []string, field string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for start := 0; start < len(keys); start += sqliteMaxParams {
		end := min(start+sqliteMaxParams, len(keys))
		chunk := keys[start:end]

		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, field)
		for _, k := range chunk {
			args = append(args, k)
		}
		query := `SELECT hash_key, value FROM auth_hash WHERE field = ? AND hash_key IN (` + placeholders(len(chunk)) + `)`
		if err := b.collect(ctx, out, query, args...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *SQLiteBackend) collect(ctx context.Context, out map[string]string, query string, args ...interface{}) error {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		out[k] = v
	}
	return rows.Err()
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
