// Package store persists the registry of users who started the bot.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// legacyDateLayout is the timestamp format of exported users.json files.
const legacyDateLayout = "2006-01-02 15:04:05"

// User is a registry entry.
type User struct {
	ID        int64
	FirstName string
	UserName  string
	FirstSeen time.Time
	LastSeen  time.Time
	Updates   int64
}

// SQLiteStore keeps users in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Register records u on first sight and reports whether it was new.
// Known users keep their original entry.
func (s *SQLiteStore) Register(ctx context.Context, u User) (bool, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, first_name, username, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.FirstName, u.UserName, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("register user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register user: %w", err)
	}
	if n > 0 {
		s.logger.Info("user registered", "user_id", u.ID, "username", u.UserName)
	}
	return n > 0, nil
}

// Touch bumps the activity counters of a known user. Unknown users are
// ignored.
func (s *SQLiteStore) Touch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen = ?, updates = updates + 1 WHERE id = ?`,
		s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

// List returns all users ordered by first sight.
func (s *SQLiteStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, first_name, username, first_seen, last_seen, updates
		 FROM users ORDER BY first_seen, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var lastSeen sql.NullTime
		if err := rows.Scan(&u.ID, &u.FirstName, &u.UserName, &u.FirstSeen, &lastSeen, &u.Updates); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if lastSeen.Valid {
			u.LastSeen = lastSeen.Time
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Count returns the number of registered users.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// Snapshot writes a consistent copy of the database to path, which must
// not exist yet.
func (s *SQLiteStore) Snapshot(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}

// LegacyEntry is one value of the users.json export format, keyed by the
// decimal user id.
type LegacyEntry struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Date     string `json:"date"`
}

// Export renders users in the users.json format.
func Export(users []User) map[string]LegacyEntry {
	out := make(map[string]LegacyEntry, len(users))
	for _, u := range users {
		out[strconv.FormatInt(u.ID, 10)] = LegacyEntry{
			Name:     u.FirstName,
			Username: u.UserName,
			Date:     u.FirstSeen.Format(legacyDateLayout),
		}
	}
	return out
}

// Import loads a users.json document. Existing users are left untouched.
// It returns the number of users added.
func (s *SQLiteStore) Import(ctx context.Context, r io.Reader) (int, error) {
	var data map[string]LegacyEntry
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return 0, fmt.Errorf("decode users file: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for key, e := range data {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.logger.Warn("skipping user with invalid id", "id", key)
			continue
		}
		seen, err := time.ParseInLocation(legacyDateLayout, e.Date, time.UTC)
		if err != nil {
			seen = s.now().UTC()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO users (id, first_name, username, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?)`,
			id, e.Name, e.Username, seen, seen,
		)
		if err != nil {
			return 0, fmt.Errorf("import user %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return added, nil
}
