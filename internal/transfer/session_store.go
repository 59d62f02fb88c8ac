package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver
)

// StaleSessionAge is the default age after which a persisted upload session
// is considered abandoned.
const StaleSessionAge = 7 * 24 * time.Hour

// SessionFile is the database file name inside the data directory.
const SessionFile = "sessions.db"

// SessionRecord is a persisted tus upload session. Identity is
// (Server, Path, Fingerprint). SessionURL may grant upload access on its
// own; never log it.
type SessionRecord struct {
	Server      string
	Path        string
	Fingerprint string
	SessionURL  string
	Size        int64
	Overwrite   bool // override flag the session was created with
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	sqlLoadSession = `SELECT server, path, fingerprint, session_url, size, overwrite, created_at, updated_at
		FROM upload_sessions WHERE server = ? AND path = ? AND fingerprint = ?`
	sqlListSessions = `SELECT server, path, fingerprint, session_url, size, overwrite, created_at, updated_at
		FROM upload_sessions ORDER BY updated_at DESC`
	sqlUpsertSession = `INSERT INTO upload_sessions
		(server, path, fingerprint, session_url, size, overwrite, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server, path, fingerprint) DO UPDATE SET
			session_url = excluded.session_url,
			size = excluded.size,
			overwrite = excluded.overwrite,
			updated_at = excluded.updated_at`
	sqlDeleteSession = `DELETE FROM upload_sessions WHERE server = ? AND path = ? AND fingerprint = ?`
	sqlDeleteStale   = `DELETE FROM upload_sessions WHERE updated_at < ?`
)

// SessionStore persists upload sessions in SQLite. Safe for concurrent use;
// writes are serialized through a single connection.
type SessionStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSessionStore opens (creating if needed) the session database at
// dbPath and applies migrations.
func OpenSessionStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return nil, fmt.Errorf("transfer: creating session dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening session database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("session store opened", slog.String("db_path", dbPath))

	return &SessionStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Load returns the record for the key, or nil, nil when none exists.
func (s *SessionStore) Load(ctx context.Context, server, path, fingerprint string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, sqlLoadSession, server, path, fingerprint)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("transfer: loading session for %s: %w", path, err)
	}

	return rec, nil
}

// Save inserts or updates a record. CreatedAt is kept on update.
func (s *SessionStore) Save(ctx context.Context, rec *SessionRecord) error {
	now := s.nowFunc().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	if _, err := s.db.ExecContext(ctx, sqlUpsertSession,
		rec.Server, rec.Path, rec.Fingerprint, rec.SessionURL, rec.Size, rec.Overwrite,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("transfer: saving session for %s: %w", rec.Path, err)
	}

	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *SessionStore) Delete(ctx context.Context, server, path, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteSession, server, path, fingerprint); err != nil {
		return fmt.Errorf("transfer: deleting session for %s: %w", path, err)
	}

	return nil
}

// List returns every record, most recently updated first.
func (s *SessionStore) List(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlListSessions)
	if err != nil {
		return nil, fmt.Errorf("transfer: listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord

	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("transfer: scanning session: %w", err)
		}

		out = append(out, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer: listing sessions: %w", err)
	}

	return out, nil
}

// CleanStale removes records not updated within maxAge and returns how many
// were deleted. Server-side data for those sessions is left to the server's
// own expiry.
func (s *SessionStore) CleanStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.nowFunc().Add(-maxAge).UnixNano()

	res, err := s.db.ExecContext(ctx, sqlDeleteStale, cutoff)
	if err != nil {
		return 0, fmt.Errorf("transfer: cleaning stale sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("transfer: cleaning stale sessions: %w", err)
	}

	if n > 0 {
		s.logger.Info("cleaned stale upload sessions", slog.Int64("count", n))
	}

	return int(n), nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec              SessionRecord
		created, updated int64
	)

	if err := row.Scan(&rec.Server, &rec.Path, &rec.Fingerprint, &rec.SessionURL, &rec.Size,
		&rec.Overwrite, &created, &updated); err != nil {
		return nil, err
	}

	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()

	return &rec, nil
}
