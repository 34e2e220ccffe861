// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store persists the latest generation in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; reindex passes are already serialised.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_generation (
		singleton INTEGER PRIMARY KEY CHECK(singleton = 1),
		id INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		sources TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS catalog_assets (
		source_id TEXT NOT NULL,
		path TEXT NOT NULL,
		locator TEXT NOT NULL,
		size INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		etag TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		probed INTEGER NOT NULL DEFAULT 0,
		captured_at INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		usable INTEGER NOT NULL,
		fail_count INTEGER NOT NULL DEFAULT 0,
		retry_after_gen INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		last_seen_gen INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (source_id, path)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before last_seen_gen existed need the column added.
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('catalog_assets') WHERE name = 'last_seen_gen'`).Scan(&n); err != nil {
		return fmt.Errorf("inspect catalog_assets: %w", err)
	}
	if n == 0 {
		if _, err := s.db.Exec(`ALTER TABLE catalog_assets ADD COLUMN last_seen_gen INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add last_seen_gen: %w", err)
		}
	}
	return nil
}

// SaveGeneration replaces the stored generation in a single transaction.
func (s *Store) SaveGeneration(ctx context.Context, g *Generation) (err error) {
	sources, err := json.Marshal(g.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM catalog_assets`); err != nil {
		return fmt.Errorf("clear assets: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO catalog_assets (source_id, path, locator, size, mod_time, etag, width, height, probed,
		captured_at, content_hash, usable, fail_count, retry_after_gen, last_error, last_seen_gen)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for a := range g.All() {
		if _, err = stmt.ExecContext(ctx,
			a.SourceID, a.Path, a.Locator, a.Size, a.ModTime.UnixNano(), a.ETag,
			a.Width, a.Height, a.Probed, a.CapturedAt.UnixNano(), a.ContentHash,
			a.Usable, a.FailCount, int64(a.RetryAfterGen), a.LastError, int64(a.LastSeenGen),
		); err != nil {
			return fmt.Errorf("insert asset %s: %w", a.Key(), err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
	INSERT INTO catalog_generation (singleton, id, created_at, sources) VALUES (1, ?, ?, ?)
	ON CONFLICT(singleton) DO UPDATE SET id = excluded.id, created_at = excluded.created_at, sources = excluded.sources`,
		int64(g.ID), g.CreatedAt.UTC().Format(time.RFC3339Nano), string(sources),
	); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}

	return tx.Commit()
}

// LoadLatest returns the stored generation, or nil when nothing was saved yet.
func (s *Store) LoadLatest(ctx context.Context) (*Generation, error) {
	var (
		id         int64
		createdStr string
		sourcesRaw string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, created_at, sources FROM catalog_generation WHERE singleton = 1`).
		Scan(&id, &createdStr, &sourcesRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load generation: %w", err)
	}
	created, _ := time.Parse(time.RFC3339Nano, createdStr)
	var sources []SourceResult
	if err := json.Unmarshal([]byte(sourcesRaw), &sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT source_id, path, locator, size, mod_time, etag, width, height, probed,
		captured_at, content_hash, usable, fail_count, retry_after_gen, last_error, last_seen_gen
	FROM catalog_assets ORDER BY source_id, path`)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assets []Asset
	for rows.Next() {
		var (
			a          Asset
			mod, capt  int64
			retryAfter int64
			lastSeen   int64
		)
		if err := rows.Scan(&a.SourceID, &a.Path, &a.Locator, &a.Size, &mod, &a.ETag,
			&a.Width, &a.Height, &a.Probed, &capt, &a.ContentHash,
			&a.Usable, &a.FailCount, &retryAfter, &a.LastError, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		a.ModTime = time.Unix(0, mod).UTC()
		a.CapturedAt = time.Unix(0, capt).UTC()
		a.RetryAfterGen = uint64(retryAfter)
		a.LastSeenGen = uint64(lastSeen)
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return newGeneration(uint64(id), created, assets, sources), nil
}
