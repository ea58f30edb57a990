// Package postgres implements tracker.Store on a Postgres connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// foreignKeyViolation is the SQLSTATE for a history row pointing at a missing profile.
const foreignKeyViolation = "23503"

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	ProfilesTable   string        `mapstructure:"profiles_table"`
	HistoryTable    string        `mapstructure:"history_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store writes profiles and history rows into Postgres.
type Store struct {
	pool     pool
	profiles string
	history  string
	now      func() time.Time
}

// Open connects a pgx pool using cfg and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewStoreWithPool(p, cfg.ProfilesTable, cfg.HistoryTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, profilesTable, historyTable string) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if profilesTable == "" {
		profilesTable = "profiles"
	}
	if historyTable == "" {
		historyTable = "profile_history"
	}
	for _, table := range []string{profilesTable, historyTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{
		pool:     p,
		profiles: profilesTable,
		history:  historyTable,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate creates the tables and indexes if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	firm TEXT NOT NULL DEFAULT '',
	last_title TEXT NOT NULL DEFAULT '',
	last_company TEXT NOT NULL DEFAULT '',
	last_checked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
)`, s.profiles),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	profile_id BIGINT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	observed_at TIMESTAMPTZ NOT NULL,
	old_title TEXT NOT NULL DEFAULT '',
	old_company TEXT NOT NULL DEFAULT '',
	observed_title TEXT NOT NULL DEFAULT '',
	observed_company TEXT NOT NULL DEFAULT '',
	change_type TEXT NOT NULL,
	changed BOOLEAN NOT NULL DEFAULT FALSE,
	detail TEXT NOT NULL DEFAULT ''
)`, s.history, s.profiles),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_firm_idx ON %s (firm)`, s.profiles, s.profiles),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_profile_idx ON %s (profile_id, observed_at)`, s.history, s.history),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// AddProfile validates and inserts a profile.
func (s *Store) AddProfile(ctx context.Context, in tracker.NewProfile) (tracker.Profile, error) {
	in, err := in.Normalize()
	if err != nil {
		return tracker.Profile{}, err
	}
	p := tracker.Profile{Name: in.Name, URL: in.URL, Firm: in.Firm, CreatedAt: s.now()}
	query := fmt.Sprintf(`INSERT INTO %s (name, url, firm, created_at) VALUES ($1, $2, $3, $4) RETURNING id`, s.profiles)
	if err := s.pool.QueryRow(ctx, query, p.Name, p.URL, p.Firm, p.CreatedAt).Scan(&p.ID); err != nil {
		return tracker.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

// GetProfile loads one profile by id.
func (s *Store) GetProfile(ctx context.Context, id int64) (tracker.Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, profileColumns, s.profiles)
	p, err := scanProfile(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Profile{}, tracker.ErrProfileNotFound
	}
	if err != nil {
		return tracker.Profile{}, fmt.Errorf("get profile %d: %w", id, err)
	}
	return p, nil
}

// ListProfiles returns profiles ordered by id, optionally filtered by exact firm.
func (s *Store) ListProfiles(ctx context.Context, firm string) ([]tracker.Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s`, profileColumns, s.profiles)
	var args []any
	if firm != "" {
		query += ` WHERE firm = $1`
		args = append(args, firm)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := make([]tracker.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// SetFirm replaces the firm of one profile.
func (s *Store) SetFirm(ctx context.Context, id int64, firm string) error {
	query := fmt.Sprintf(`UPDATE %s SET firm = $1 WHERE id = $2`, s.profiles)
	tag, err := s.pool.Exec(ctx, query, tracker.NormalizeFirm(firm), id)
	if err != nil {
		return fmt.Errorf("set firm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrProfileNotFound
	}
	return nil
}

// SetFirmByURL sets the firm on every profile with the given URL.
func (s *Store) SetFirmByURL(ctx context.Context, url string, firm string) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET firm = $1 WHERE url = $2`, s.profiles)
	tag, err := s.pool.Exec(ctx, query, tracker.NormalizeFirm(firm), strings.TrimSpace(url))
	if err != nil {
		return 0, fmt.Errorf("set firm by url: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecordObservation inserts the history row and applies update in one transaction.
func (s *Store) RecordObservation(
	ctx context.Context,
	entry tracker.HistoryEntry,
	update *tracker.ProfileUpdate,
) (tracker.HistoryEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("begin observation: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	entry.ObservedAt = entry.ObservedAt.UTC()
	insert := fmt.Sprintf(`INSERT INTO %s (
	run_id, profile_id, observed_at, old_title, old_company,
	observed_title, observed_company, change_type, changed, detail
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`, s.history)
	err = tx.QueryRow(ctx, insert,
		entry.RunID,
		entry.ProfileID,
		entry.ObservedAt,
		entry.OldTitle,
		entry.OldCompany,
		entry.ObservedTitle,
		entry.ObservedCompany,
		string(entry.ChangeType),
		entry.Changed,
		entry.Detail,
	).Scan(&entry.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return tracker.HistoryEntry{}, tracker.ErrProfileNotFound
		}
		return tracker.HistoryEntry{}, fmt.Errorf("insert history: %w", err)
	}

	if update != nil {
		query := fmt.Sprintf(
			`UPDATE %s SET last_title = $1, last_company = $2, last_checked_at = $3 WHERE id = $4`, s.profiles)
		tag, err := tx.Exec(ctx, query, update.LastTitle, update.LastCompany, update.CheckedAt.UTC(), entry.ProfileID)
		if err != nil {
			return tracker.HistoryEntry{}, fmt.Errorf("update profile: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tracker.HistoryEntry{}, tracker.ErrProfileNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("commit observation: %w", err)
	}
	committed = true
	return entry, nil
}

// ListHistory returns one profile's entries, newest first.
func (s *Store) ListHistory(ctx context.Context, profileID int64) ([]tracker.HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE profile_id = $1 ORDER BY observed_at DESC, id DESC`,
		historyColumns, s.history)
	return s.queryHistory(ctx, query, profileID)
}

// AllHistory returns every entry, oldest first.
func (s *Store) AllHistory(ctx context.Context) ([]tracker.HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY observed_at ASC, id ASC`, historyColumns, s.history)
	return s.queryHistory(ctx, query)
}

// LatestTitleChange returns the newest entry whose title changed.
func (s *Store) LatestTitleChange(ctx context.Context, profileID int64) (tracker.HistoryEntry, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE profile_id = $1 AND change_type IN ($2, $3)
ORDER BY observed_at DESC, id DESC LIMIT 1`, historyColumns, s.history)
	entries, err := s.queryHistory(ctx, query, profileID,
		string(tracker.ChangeTitle), string(tracker.ChangeTitleAndCompany))
	if err != nil {
		return tracker.HistoryEntry{}, false, err
	}
	if len(entries) == 0 {
		return tracker.HistoryEntry{}, false, nil
	}
	return entries[0], true, nil
}

const profileColumns = `id, name, url, firm, last_title, last_company, last_checked_at, created_at`

const historyColumns = `id, run_id, profile_id, observed_at, old_title, old_company, ` +
	`observed_title, observed_company, change_type, changed, detail`

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) ([]tracker.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]tracker.HistoryEntry, 0)
	for rows.Next() {
		var (
			e          tracker.HistoryEntry
			changeType string
		)
		if err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.ProfileID,
			&e.ObservedAt,
			&e.OldTitle,
			&e.OldCompany,
			&e.ObservedTitle,
			&e.ObservedCompany,
			&changeType,
			&e.Changed,
			&e.Detail,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.ChangeType = tracker.ChangeType(changeType)
		e.ObservedAt = e.ObservedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return out, nil
}

func scanProfile(row pgx.Row) (tracker.Profile, error) {
	var p tracker.Profile
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.URL,
		&p.Firm,
		&p.LastTitle,
		&p.LastCompany,
		&p.LastCheckedAt,
		&p.CreatedAt,
	)
	if err != nil {
		return tracker.Profile{}, err
	}
	if p.LastCheckedAt != nil {
		t := p.LastCheckedAt.UTC()
		p.LastCheckedAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
