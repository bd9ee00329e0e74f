package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PG is a Postgres-backed Store for managed mode. Lists are stored as jsonb
// arrays in a single coordination table; expired rows are treated as absent
// by every operation and purged by Sweep.
//
// Atomicity: SetNX relies on INSERT ... ON CONFLICT, RenameNX on a
// serializable pair of statements inside one transaction.
type PG struct {
	db *sql.DB
}

// NewPG creates a Postgres-backed coordination store.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

func (p *PG) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// An expired row counts as absent: the upsert reclaims it.
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO coordination_keys (key, items, expires_at)
		VALUES ($1, NULL, $2)
		ON CONFLICT (key) DO UPDATE SET items = NULL, expires_at = EXCLUDED.expires_at
		WHERE coordination_keys.expires_at <= now()`,
		key, time.Now().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("kv setnx %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv setnx %s: %w", key, err)
	}
	return n == 1, nil
}

func (p *PG) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM coordination_keys WHERE key = $1 AND expires_at > now()`,
		key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv exists %s: %w", key, err)
	}
	return true, nil
}

func (p *PG) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := p.db.ExecContext(ctx,
			`DELETE FROM coordination_keys WHERE key = $1`, key); err != nil {
			return fmt.Errorf("kv del %s: %w", key, err)
		}
	}
	return nil
}

func (p *PG) RPush(ctx context.Context, key, value string, ttl time.Duration) (int, error) {
	var length int
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO coordination_keys (key, items, expires_at)
		VALUES ($1, jsonb_build_array($2::text), $3)
		ON CONFLICT (key) DO UPDATE SET
			items = CASE
				WHEN coordination_keys.expires_at <= now() THEN jsonb_build_array($2::text)
				ELSE coalesce(coordination_keys.items, '[]'::jsonb) || to_jsonb($2::text)
			END,
			expires_at = CASE
				WHEN coordination_keys.expires_at <= now() THEN $3
				ELSE coordination_keys.expires_at
			END
		RETURNING jsonb_array_length(items)`,
		key, value, time.Now().Add(ttl)).Scan(&length)
	if err != nil {
		return 0, fmt.Errorf("kv rpush %s: %w", key, err)
	}
	return length, nil
}

func (p *PG) LRange(ctx context.Context, key string) ([]string, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT items FROM coordination_keys WHERE key = $1 AND expires_at > now()`,
		key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv lrange %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("kv lrange %s: decode items: %w", key, err)
	}
	return items, nil
}

func (p *PG) RenameNX(ctx context.Context, src, dst string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("kv renamenx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM coordination_keys WHERE key = $1 AND expires_at > now()`,
		dst).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("kv renamenx check %s: %w", dst, err)
	}

	res, err := tx.ExecContext(ctx, `
		WITH moved AS (
			DELETE FROM coordination_keys
			WHERE key = $1 AND expires_at > now()
			RETURNING items, expires_at
		)
		INSERT INTO coordination_keys (key, items, expires_at)
		SELECT $2, items, expires_at FROM moved
		ON CONFLICT (key) DO NOTHING`,
		src, dst)
	if err != nil {
		return false, fmt.Errorf("kv renamenx %s->%s: %w", src, dst, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv renamenx %s->%s: %w", src, dst, err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("kv renamenx commit: %w", err)
	}
	return true, nil
}

func (p *PG) Sweep(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM coordination_keys WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("kv sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kv sweep: %w", err)
	}
	return int(n), nil
}
