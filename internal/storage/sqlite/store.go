// Package sqlite implements tracker.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schemaVersion = 1

// Store persists profiles and history in a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite wants a single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Migrate creates the schema, tracking the version in PRAGMA user_version.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v >= schemaVersion {
		return tx.Commit()
	}

	stmts := []string{`
CREATE TABLE IF NOT EXISTS profiles (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  url TEXT NOT NULL,
  firm TEXT NOT NULL DEFAULT '',
  last_title TEXT NOT NULL DEFAULT '',
  last_company TEXT NOT NULL DEFAULT '',
  last_checked_at TEXT,
  created_at TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  profile_id INTEGER NOT NULL REFERENCES profiles(id),
  observed_at TEXT NOT NULL,
  old_title TEXT NOT NULL DEFAULT '',
  old_company TEXT NOT NULL DEFAULT '',
  observed_title TEXT NOT NULL DEFAULT '',
  observed_company TEXT NOT NULL DEFAULT '',
  change_type TEXT NOT NULL,
  changed INTEGER NOT NULL DEFAULT 0,
  detail TEXT NOT NULL DEFAULT ''
);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_firm ON profiles(firm);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_url ON profiles(url);`,
		`CREATE INDEX IF NOT EXISTS idx_history_profile ON history(profile_id, observed_at);`,
		fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrate: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

const profileColumns = `id, name, url, firm, last_title, last_company, last_checked_at, created_at`

// AddProfile validates and inserts a profile.
func (s *Store) AddProfile(ctx context.Context, in tracker.NewProfile) (tracker.Profile, error) {
	n, err := in.Normalize()
	if err != nil {
		return tracker.Profile{}, err
	}
	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (name, url, firm, created_at) VALUES (?, ?, ?, ?)`,
		n.Name, n.URL, n.Firm, formatTime(created),
	)
	if err != nil {
		return tracker.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return tracker.Profile{}, fmt.Errorf("profile id: %w", err)
	}
	return tracker.Profile{ID: id, Name: n.Name, URL: n.URL, Firm: n.Firm, CreatedAt: created}, nil
}

// GetProfile loads one profile by id.
func (s *Store) GetProfile(ctx context.Context, id int64) (tracker.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Profile{}, tracker.ErrProfileNotFound
	}
	if err != nil {
		return tracker.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns profiles in insertion order, filtered by exact firm when set.
func (s *Store) ListProfiles(ctx context.Context, firm string) ([]tracker.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles`
	var args []any
	if firm != "" {
		query += ` WHERE firm = ?`
		args = append(args, firm)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	profiles := []tracker.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

// SetFirm sets or clears ("") the firm of one profile.
func (s *Store) SetFirm(ctx context.Context, id int64, firm string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET firm = ? WHERE id = ?`, tracker.NormalizeFirm(firm), id)
	if err != nil {
		return fmt.Errorf("set firm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set firm rows: %w", err)
	}
	if n == 0 {
		return tracker.ErrProfileNotFound
	}
	return nil
}

// SetFirmByURL updates every profile with the given URL and reports how many matched.
func (s *Store) SetFirmByURL(ctx context.Context, url string, firm string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET firm = ? WHERE url = ?`, tracker.NormalizeFirm(firm), strings.TrimSpace(url))
	if err != nil {
		return 0, fmt.Errorf("set firm by url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set firm rows: %w", err)
	}
	return n, nil
}

// RecordObservation appends the entry and applies update in one transaction.
func (s *Store) RecordObservation(
	ctx context.Context,
	entry tracker.HistoryEntry,
	update *tracker.ProfileUpdate,
) (tracker.HistoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("begin observation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO history (
  run_id, profile_id, observed_at, old_title, old_company,
  observed_title, observed_company, change_type, changed, detail
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.ProfileID,
		formatTime(entry.ObservedAt),
		entry.OldTitle,
		entry.OldCompany,
		entry.ObservedTitle,
		entry.ObservedCompany,
		string(entry.ChangeType),
		entry.Changed,
		entry.Detail,
	)
	if err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("insert history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("history id: %w", err)
	}

	if update != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE profiles SET last_title = ?, last_company = ?, last_checked_at = ? WHERE id = ?`,
			update.LastTitle, update.LastCompany, formatTime(update.CheckedAt), entry.ProfileID,
		)
		if err != nil {
			return tracker.HistoryEntry{}, fmt.Errorf("update profile: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return tracker.HistoryEntry{}, tracker.ErrProfileNotFound
		}
	}
	if err := tx.Commit(); err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("commit observation: %w", err)
	}
	entry.ID = id
	entry.ObservedAt = entry.ObservedAt.UTC()
	return entry, nil
}

const historyColumns = `id, run_id, profile_id, observed_at, old_title, old_company,
  observed_title, observed_company, change_type, changed, detail`

// ListHistory returns a profile's entries, newest first.
func (s *Store) ListHistory(ctx context.Context, profileID int64) ([]tracker.HistoryEntry, error) {
	return s.queryHistory(ctx,
		`SELECT `+historyColumns+` FROM history WHERE profile_id = ? ORDER BY observed_at DESC, id DESC`,
		profileID)
}

// AllHistory returns every entry in chronological order.
func (s *Store) AllHistory(ctx context.Context) ([]tracker.HistoryEntry, error) {
	return s.queryHistory(ctx, `SELECT `+historyColumns+` FROM history ORDER BY observed_at ASC, id ASC`)
}

// LatestTitleChange returns the most recent entry that changed the title.
func (s *Store) LatestTitleChange(ctx context.Context, profileID int64) (tracker.HistoryEntry, bool, error) {
	entries, err := s.queryHistory(ctx, `SELECT `+historyColumns+` FROM history
WHERE profile_id = ? AND change_type IN (?, ?)
ORDER BY observed_at DESC, id DESC LIMIT 1`,
		profileID, string(tracker.ChangeTitle), string(tracker.ChangeTitleAndCompany))
	if err != nil {
		return tracker.HistoryEntry{}, false, err
	}
	if len(entries) == 0 {
		return tracker.HistoryEntry{}, false, nil
	}
	return entries[0], true, nil
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) ([]tracker.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []tracker.HistoryEntry{}
	for rows.Next() {
		var (
			e          tracker.HistoryEntry
			observedAt string
			changeType string
		)
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.ProfileID, &observedAt, &e.OldTitle, &e.OldCompany,
			&e.ObservedTitle, &e.ObservedCompany, &changeType, &e.Changed, &e.Detail,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if e.ObservedAt, err = parseTime(observedAt); err != nil {
			return nil, err
		}
		e.ChangeType = tracker.ChangeType(changeType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (tracker.Profile, error) {
	var (
		p         tracker.Profile
		checkedAt sql.NullString
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.URL, &p.Firm, &p.LastTitle, &p.LastCompany, &checkedAt, &createdAt); err != nil {
		return tracker.Profile{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return tracker.Profile{}, err
	}
	if checkedAt.Valid && checkedAt.String != "" {
		t, err := parseTime(checkedAt.String)
		if err != nil {
			return tracker.Profile{}, err
		}
		p.LastCheckedAt = &t
	}
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		// Rows written by hand or by older tools use RFC3339.
		if t2, err2 := time.Parse(time.RFC3339Nano, raw); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("parse time %q: %w", raw, err)
	}
	return t.UTC(), nil
}
