package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/bridge/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so that lexical order of stored timestamps
// matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore represents the SQLite-backed users and symptom ledger.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the clock used for created_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) {
		s.logger = l
	}
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	inMemory := dbPath == ":memory:"

	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	// Connection-scoped pragmas go in the DSN so every pooled connection gets them.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a distinct database.
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db, inMemory); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")

	return s, nil
}

// enablePragmas sets database-scoped pragmas. WAL mode persists in the file.
func enablePragmas(db *sql.DB, inMemory bool) error {
	if inMemory {
		return nil
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user. The email is normalized before insertion.
func (s *SQLiteStore) CreateUser(ctx context.Context, u types.NewUser) (*types.User, error) {
	user := &types.User{
		ID:           ulid.Make().String(),
		Name:         strings.TrimSpace(u.Name),
		Email:        types.NormalizeEmail(u.Email),
		PasswordHash: u.PasswordHash,
		CreatedAt:    s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt.Format(timeFormat))
	if err != nil {
		if isConstraintError(err, "UNIQUE") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	s.logger.Debug("user created", "action", "user_created", "user_id", user.ID)
	return user, nil
}

// GetUserByID returns the user with the given ID or ErrNotFound.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

// GetUserByEmail returns the user with the given email (case-insensitive) or ErrNotFound.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM users WHERE email = ?
	`, types.NormalizeEmail(email))
	return scanUser(row)
}

// AppendSymptom inserts a symptom entry for the user. Returns ErrNotFound
// when the user does not exist.
func (s *SQLiteStore) AppendSymptom(ctx context.Context, userID, text string, loggedAt time.Time) (*types.SymptomEntry, error) {
	entry := &types.SymptomEntry{
		ID:       ulid.Make().String(),
		UserID:   userID,
		Text:     text,
		LoggedAt: loggedAt.UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symptoms (id, user_id, text, logged_at)
		VALUES (?, ?, ?, ?)
	`, entry.ID, entry.UserID, entry.Text, entry.LoggedAt.Format(timeFormat))
	if err != nil {
		if isConstraintError(err, "FOREIGN KEY") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert symptom: %w", err)
	}

	return entry, nil
}

// ListSymptoms returns every entry for the user, oldest first.
func (s *SQLiteStore) ListSymptoms(ctx context.Context, userID string) ([]types.SymptomEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, text, logged_at
		FROM symptoms
		WHERE user_id = ?
		ORDER BY logged_at ASC, rowid ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query symptoms: %w", err)
	}
	defer rows.Close()

	return scanSymptoms(rows)
}

// ListRecentSymptoms returns the newest limit entries for the user, oldest first.
func (s *SQLiteStore) ListRecentSymptoms(ctx context.Context, userID string, limit int) ([]types.SymptomEntry, error) {
	if limit <= 0 {
		return []types.SymptomEntry{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, text, logged_at FROM (
			SELECT id, user_id, text, logged_at, rowid AS seq
			FROM symptoms
			WHERE user_id = ?
			ORDER BY logged_at DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY logged_at ASC, seq ASC
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent symptoms: %w", err)
	}
	defer rows.Close()

	return scanSymptoms(rows)
}

// GetStats returns aggregate store statistics
func (s *SQLiteStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	var stats types.StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM users), (SELECT COUNT(*) FROM symptoms)
	`).Scan(&stats.UserCount, &stats.SymptomCount)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Backup writes a consistent copy of the database to destPath using
// VACUUM INTO. destPath must not exist.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	if dir := filepath.Dir(destPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup destination %s already exists", destPath)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}

	s.logger.Debug("backup written", "action", "backup_written", "path", destPath)
	return nil
}

func scanUser(row *sql.Row) (*types.User, error) {
	var u types.User
	var createdAt string

	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if t, err := time.Parse(timeFormat, createdAt); err == nil {
		u.CreatedAt = t
	}
	return &u, nil
}

func scanSymptoms(rows *sql.Rows) ([]types.SymptomEntry, error) {
	entries := []types.SymptomEntry{}
	for rows.Next() {
		var e types.SymptomEntry
		var loggedAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Text, &loggedAt); err != nil {
			return nil, fmt.Errorf("scan symptom: %w", err)
		}
		t, err := time.Parse(timeFormat, loggedAt)
		if err != nil {
			return nil, fmt.Errorf("parse logged_at %q: %w", loggedAt, err)
		}
		e.LoggedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// isConstraintError reports whether err is a SQLite constraint failure of the given kind.
func isConstraintError(err error, kind string) bool {
	msg := err.Error()
	return strings.Contains(msg, "constraint failed") && strings.Contains(msg, kind)
}
