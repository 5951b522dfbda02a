package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/deusflow/ottpulse/internal/logger"
)

// PostgresStore keeps state in PostgreSQL. Reads are served from memory; Save
// flushes what changed since the previous save.
type PostgresStore struct {
	*memState
	db *sql.DB

	saveMu       sync.Mutex
	pendingLinks []string
	dirtyUsers   map[int64]bool
}

// OpenPostgresStore connects, creates the schema and loads the newest
// capacity seen links plus the audience and settings.
func OpenPostgresStore(ctx context.Context, connectionString string, capacity int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ps := &PostgresStore{
		memState:   newMemState(capacity),
		db:         db,
		dirtyUsers: make(map[int64]bool),
	}

	if err := ps.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := ps.load(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	logger.Info("PostgreSQL store connected", "seen_links", ps.seen.Len(), "users", len(ps.users))
	return ps, nil
}

func (ps *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_links (
		id BIGSERIAL PRIMARY KEY,
		hash VARCHAR(64) UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS audience (
		user_id BIGINT PRIMARY KEY,
		preferred_language VARCHAR(16) NOT NULL DEFAULT '',
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS bot_settings (
		key VARCHAR(64) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	if _, err := ps.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (ps *PostgresStore) load(ctx context.Context) error {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT hash FROM (SELECT id, hash FROM seen_links ORDER BY id DESC LIMIT $1) newest ORDER BY id ASC`,
		ps.seen.Cap())
	if err != nil {
		return err
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return err
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = ps.db.QueryContext(ctx, `SELECT user_id, preferred_language, joined_at FROM audience`)
	if err != nil {
		return err
	}
	users := make(map[int64]Member)
	for rows.Next() {
		var id int64
		var m Member
		if err := rows.Scan(&id, &m.PreferredLanguage, &m.JoinedAt); err != nil {
			rows.Close()
			return err
		}
		users[id] = m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	settings := map[string]string{}
	rows, err = ps.db.QueryContext(ctx, `SELECT key, value FROM bot_settings`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return err
		}
		settings[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, h := range hashes {
		ps.seen.Add(h)
	}
	ps.users = users
	if v, ok := settings["admin_id"]; ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			ps.adminID = id
		}
	}
	if v, ok := settings["last_run"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			ps.lastRun = t
		}
	}
	return nil
}

func (ps *PostgresStore) MarkProcessed(hashes ...string) {
	added := ps.markProcessed(hashes)
	if len(added) == 0 {
		return
	}
	ps.saveMu.Lock()
	ps.pendingLinks = append(ps.pendingLinks, added...)
	ps.saveMu.Unlock()
}

func (ps *PostgresStore) AddMember(id int64, joinedAt time.Time) bool {
	added := ps.memState.AddMember(id, joinedAt)
	if added {
		ps.markUserDirty(id)
	}
	return added
}

func (ps *PostgresStore) SetLanguage(id int64, lang string) {
	ps.memState.SetLanguage(id, lang)
	ps.markUserDirty(id)
}

func (ps *PostgresStore) markUserDirty(id int64) {
	ps.saveMu.Lock()
	ps.dirtyUsers[id] = true
	ps.saveMu.Unlock()
}

// Save flushes new links, changed members and settings in one transaction,
// then trims seen_links to the cap by insertion order.
func (ps *PostgresStore) Save(ctx context.Context) error {
	ps.saveMu.Lock()
	defer ps.saveMu.Unlock()

	ps.mu.Lock()
	links := append([]string(nil), ps.pendingLinks...)
	users := make(map[int64]Member, len(ps.dirtyUsers))
	for id := range ps.dirtyUsers {
		users[id] = ps.users[id]
	}
	adminID := ps.adminID
	lastRun := ps.lastRun
	capacity := ps.seen.Cap()
	ps.mu.Unlock()

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if len(links) > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seen_links (hash) SELECT unnest($1::text[]) ON CONFLICT (hash) DO NOTHING`,
			pq.Array(links)); err != nil {
			return fmt.Errorf("%w: insert seen links: %v", ErrPersistence, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM seen_links WHERE id NOT IN (SELECT id FROM seen_links ORDER BY id DESC LIMIT $1)`,
			capacity); err != nil {
			return fmt.Errorf("%w: trim seen links: %v", ErrPersistence, err)
		}
	}

	for id, m := range users {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audience (user_id, preferred_language, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE SET preferred_language = EXCLUDED.preferred_language`,
			id, m.PreferredLanguage, m.JoinedAt); err != nil {
			return fmt.Errorf("%w: upsert member %d: %v", ErrPersistence, id, err)
		}
	}

	settings := map[string]string{}
	if adminID != 0 {
		settings["admin_id"] = strconv.FormatInt(adminID, 10)
	}
	if !lastRun.IsZero() {
		settings["last_run"] = lastRun.UTC().Format(time.RFC3339)
	}
	for k, v := range settings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bot_settings (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			k, v); err != nil {
			return fmt.Errorf("%w: upsert setting %s: %v", ErrPersistence, k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}

	ps.pendingLinks = ps.pendingLinks[len(links):]
	for id := range users {
		delete(ps.dirtyUsers, id)
	}
	return nil
}

func (ps *PostgresStore) Stats() Stats { return ps.stats("postgres") }

// Close closes the database connection
func (ps *PostgresStore) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}
