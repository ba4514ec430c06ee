// Package sqlstore implements backend.Backend over an embedded SQL store:
// the pure-Go, CGO-free SQLite driver github.com/glebarez/go-sqlite, the
// same driver family the teacher pack's chat backend already depends on
// (via the GORM dialector github.com/glebarez/sqlite). This package talks
// to database/sql directly instead of through an ORM because the schema
// is a single generic key/value/score table with no domain model to map.
//
// Mutating operations run inside database/sql transactions opened with
// the driver's default (deferred) mode, not BEGIN IMMEDIATE: SQLite takes
// its write lock on the first write inside the transaction, not when the
// transaction begins.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"go-ratecache/internal/backend"
	"go-ratecache/internal/clock"
)

func encodeInt64(v int64) []byte { return []byte(strconv.FormatInt(v, 10)) }

func decodeInt64(b []byte) int64 {
	v, _ := strconv.ParseInt(string(b), 10, 64)
	return v
}

const schema = `
CREATE TABLE IF NOT EXISTS ratecache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB,
	expires_at REAL
);
CREATE TABLE IF NOT EXISTS ratecache_zset (
	key    TEXT NOT NULL,
	member TEXT NOT NULL,
	score  REAL NOT NULL,
	PRIMARY KEY (key, member)
);
CREATE INDEX IF NOT EXISTS ratecache_zset_score_idx ON ratecache_zset(key, score);
CREATE TABLE IF NOT EXISTS ratecache_zset_expiry (
	key        TEXT PRIMARY KEY,
	expires_at REAL
);
`

// Config controls how the SQL backend opens its database.
type Config struct {
	// Path is the SQLite file path. ":memory:" or "" opens an ephemeral,
	// in-process database that is discarded on Close — the embedded-SQL-
	// store equivalent of the KV backend's embedded server.
	Path string
	// Conn, if set, is used instead of opening Path; Backend will not
	// close it and will not own its lifecycle.
	Conn *sql.DB
}

// Backend is the SQLite implementation of backend.Backend.
type Backend struct {
	db        *sql.DB
	ownsConn  bool
	clock     clock.Clock
}

// New opens (or adopts) a database and ensures the schema exists.
func New(cfg Config, clk clock.Clock) (*Backend, error) {
	if clk == nil {
		clk = clock.System
	}

	if cfg.Conn != nil {
		b := &Backend{db: cfg.Conn, ownsConn: false, clock: clk}
		if err := b.init(); err != nil {
			return nil, err
		}
		return b, nil
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sql backend: %w", err)
	}
	if path == ":memory:" {
		// A single shared connection keeps the in-memory database alive;
		// database/sql otherwise closes and forgets it between uses.
		db.SetMaxOpenConns(1)
	}

	b := &Backend{db: db, ownsConn: true, clock: clk}
	if err := b.init(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) init() error {
	_, err := b.db.Exec(schema)
	return err
}

// Close releases the database connection if this Backend opened it.
func (b *Backend) Close() error {
	if !b.ownsConn {
		return nil
	}
	return b.db.Close()
}

func (b *Backend) now() float64 {
	return b.clock.Now()
}

func (b *Backend) expiresAt(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return b.now() + ttl.Seconds()
}

// withImmediateTx runs fn inside a write transaction. database/sql's
// portable *sql.Tx has no driver-agnostic "BEGIN IMMEDIATE" knob, so the
// single shared connection (ownsConn path sets MaxOpenConns(1) for
// in-memory databases) plus SQLite's own busy_timeout pragma is what
// serializes writers in practice. The transaction itself is a deferred
// one, whatever this function's name suggests.
func (b *Backend) withImmediateTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting the zset-expiry
// helpers below run inside or outside a transaction.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// zsetExpired reports whether the sorted set at key carries an expiry that
// has passed. If so it also evicts the set's members and expiry row, since
// a read of an expired key must behave as if it were absent.
func (b *Backend) zsetExpired(ctx context.Context, ex execer, key string) (bool, error) {
	var expiresAt sql.NullFloat64
	row := ex.QueryRowContext(ctx, `SELECT expires_at FROM ratecache_zset_expiry WHERE key = ?`, key)
	switch err := row.Scan(&expiresAt); err {
	case sql.ErrNoRows:
		return false, nil
	case nil:
	default:
		return false, err
	}
	if !expiresAt.Valid || expiresAt.Float64 > b.now() {
		return false, nil
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM ratecache_zset WHERE key = ?`, key); err != nil {
		return false, err
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM ratecache_zset_expiry WHERE key = ?`, key); err != nil {
		return false, err
	}
	return true, nil
}

// Get implements backend.Backend.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt sql.NullFloat64
	row := b.db.QueryRowContext(ctx, `SELECT value, expires_at FROM ratecache_entries WHERE key = ?`, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	if expiresAt.Valid && expiresAt.Float64 <= b.now() {
		return nil, false, nil
	}
	return value, true, nil
}

// Set implements backend.Backend.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.withImmediateTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ratecache_entries(key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		`, key, value, b.expiresAt(ttl))
		return err
	})
}

// Delete implements backend.Backend.
func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.withImmediateTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ratecache_entries WHERE key = ?`, key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ratecache_zset WHERE key = ?`, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM ratecache_zset_expiry WHERE key = ?`, key)
		return err
	})
}

// Incr implements backend.Backend.
func (b *Backend) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	var result int64
	err := b.withImmediateTx(ctx, func(tx *sql.Tx) error {
		var cur int64
		var expiresAt sql.NullFloat64
		row := tx.QueryRowContext(ctx, `SELECT value, expires_at FROM ratecache_entries WHERE key = ?`, key)
		var raw []byte
		scanErr := row.Scan(&raw, &expiresAt)
		exists := scanErr == nil && !(expiresAt.Valid && expiresAt.Float64 <= b.now())
		if exists {
			cur = decodeInt64(raw)
		}
		cur += delta
		var newExpiry any
		if exists {
			if expiresAt.Valid {
				newExpiry = expiresAt.Float64
			}
		} else {
			newExpiry = b.expiresAt(ttl)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ratecache_entries(key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		`, key, encodeInt64(cur), newExpiry)
		result = cur
		return err
	})
	return result, err
}

// ZAdd implements backend.Backend.
func (b *Backend) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return b.withImmediateTx(ctx, func(tx *sql.Tx) error {
		if _, err := b.zsetExpired(ctx, tx, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ratecache_zset(key, member, score) VALUES (?, ?, ?)
			ON CONFLICT(key, member) DO UPDATE SET score = excluded.score
		`, key, member, score)
		return err
	})
}

// ZRemRangeByScore implements backend.Backend.
func (b *Backend) ZRemRangeByScore(ctx context.Context, key string, lo, hi float64) (int64, error) {
	var removed int64
	err := b.withImmediateTx(ctx, func(tx *sql.Tx) error {
		if expired, err := b.zsetExpired(ctx, tx, key); err != nil {
			return err
		} else if expired {
			return nil
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM ratecache_zset WHERE key = ? AND score >= ? AND score <= ?`, key, lo, hi)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// ZCount implements backend.Backend.
func (b *Backend) ZCount(ctx context.Context, key string, lo, hi float64) (int64, error) {
	if expired, err := b.zsetExpired(ctx, b.db, key); err != nil {
		return 0, err
	} else if expired {
		return 0, nil
	}
	var count int64
	row := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ratecache_zset WHERE key = ? AND score >= ? AND score <= ?`, key, lo, hi)
	err := row.Scan(&count)
	return count, err
}

// ZRangeByScoreWithScores implements backend.Backend.
func (b *Backend) ZRangeByScoreWithScores(ctx context.Context, key string, lo, hi float64, limit int) ([]backend.ScoredMember, error) {
	if expired, err := b.zsetExpired(ctx, b.db, key); err != nil {
		return nil, err
	} else if expired {
		return nil, nil
	}
	query := `SELECT member, score FROM ratecache_zset WHERE key = ? AND score >= ? AND score <= ? ORDER BY score ASC`
	args := []any{key, lo, hi}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backend.ScoredMember
	for rows.Next() {
		var m backend.ScoredMember
		if err := rows.Scan(&m.Member, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CAS implements backend.Backend.
func (b *Backend) CAS(ctx context.Context, key string, expected, newValue []byte, ttl time.Duration) (bool, error) {
	var swapped bool
	err := b.withImmediateTx(ctx, func(tx *sql.Tx) error {
		var cur []byte
		var expiresAt sql.NullFloat64
		row := tx.QueryRowContext(ctx, `SELECT value, expires_at FROM ratecache_entries WHERE key = ?`, key)
		scanErr := row.Scan(&cur, &expiresAt)
		exists := scanErr == nil && !(expiresAt.Valid && expiresAt.Float64 <= b.now())
		if !exists {
			cur = nil
		}
		if !bytesEqual(cur, expected) {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ratecache_entries(key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		`, key, newValue, b.expiresAt(ttl))
		if err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

// Touch implements backend.Backend. The string-entry and sorted-set tables
// carry independent expiry columns, so both are refreshed when present;
// refreshing is a no-op for whichever shape key does not exist under.
func (b *Backend) Touch(ctx context.Context, key string, ttl time.Duration) error {
	return b.withImmediateTx(ctx, func(tx *sql.Tx) error {
		if _, err := b.zsetExpired(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ratecache_entries SET expires_at = ? WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`, b.expiresAt(ttl), key, b.now(),
		); err != nil {
			return err
		}

		var memberCount int
		row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ratecache_zset WHERE key = ?`, key)
		if err := row.Scan(&memberCount); err != nil {
			return err
		}
		if memberCount == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ratecache_zset_expiry(key, expires_at) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
		`, key, b.expiresAt(ttl))
		return err
	})
}

// Clear implements backend.Backend.
func (b *Backend) Clear(ctx context.Context, prefix string) error {
	return b.withImmediateTx(ctx, func(tx *sql.Tx) error {
		like := strings.ReplaceAll(prefix, "%", "\\%") + "%"
		if _, err := tx.ExecContext(ctx, `DELETE FROM ratecache_entries WHERE key LIKE ? ESCAPE '\'`, like); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ratecache_zset WHERE key LIKE ? ESCAPE '\'`, like); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM ratecache_zset_expiry WHERE key LIKE ? ESCAPE '\'`, like)
		return err
	})
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
