// Package sqlite persists users and activity history in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentstation/beacon/internal/storage/sqlite/migrations"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

// Store implements beacon persistence over SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and applies bundled migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewConfigError("storage", "database path is required", nil)
	}

	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = filepath.Clean(path) +
			"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// Each connection would otherwise get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

const userColumns = `id, email, name, role, status, password_hash, created_at, last_seen_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		role      string
		status    string
		createdAt int64
		lastSeen  sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &status, &u.PasswordHash, &createdAt, &lastSeen); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.Status = models.Status(status)
	u.CreatedAt = fromMillis(createdAt)
	if lastSeen.Valid {
		u.LastSeenAt = fromMillis(lastSeen.Int64)
	}
	return &u, nil
}

// CreateUser inserts a new user. It fails if the ID or email is taken.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if err := prepareUser(u); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, string(u.Role), string(u.Status), u.PasswordHash,
		toMillis(u.CreatedAt), nullMillis(u.LastSeenAt),
	)
	return mapUserError(err, u)
}

// PutUser inserts or replaces a user by ID.
func (s *Store) PutUser(ctx context.Context, u *models.User) error {
	if err := prepareUser(u); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    email = excluded.email,
    name = excluded.name,
    role = excluded.role,
    status = excluded.status,
    password_hash = CASE WHEN excluded.password_hash = '' THEN users.password_hash ELSE excluded.password_hash END,
    last_seen_at = COALESCE(excluded.last_seen_at, users.last_seen_at)`,
		u.ID, u.Email, u.Name, string(u.Role), string(u.Status), u.PasswordHash,
		toMillis(u.CreatedAt), nullMillis(u.LastSeenAt),
	)
	return mapUserError(err, u)
}

func prepareUser(u *models.User) error {
	if u == nil {
		return errors.NewValidationError("user", nil, "user is required")
	}
	u.Email = models.NormalizeEmail(u.Email)
	if u.Status == "" {
		u.Status = models.StatusActive
	}
	if err := u.Validate(); err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return nil
}

func mapUserError(err error, u *models.User) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: users.email"):
		return errors.NewAlreadyExistsError("user", u.Email)
	case strings.Contains(msg, "UNIQUE constraint failed: users.id"):
		return errors.NewAlreadyExistsError("user", u.ID)
	}
	return errors.WrapResource("put", "user", u.ID, err)
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("user", id)
	}
	if err != nil {
		return nil, errors.WrapResource("get", "user", id, err)
	}
	return u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("user", email)
	}
	if err != nil {
		return nil, errors.WrapResource("get", "user", email, err)
	}
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.WrapResource("list", "users", "", err)
	}
	defer func() { _ = rows.Close() }()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.WrapResource("scan", "user", "", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user. Activity history is kept.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return errors.WrapResource("delete", "user", id, err)
	}
	return expectRow(res, "user", id)
}

// TouchUser records that a user was seen at at.
func (s *Store) TouchUser(ctx context.Context, id string, at time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE users SET last_seen_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return errors.WrapResource("touch", "user", id, err)
	}
	return expectRow(res, "user", id)
}

// CountUsers returns the number of users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, errors.WrapResource("count", "users", "", err)
	}
	return n, nil
}

func expectRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFoundError(resource, id)
	}
	return nil
}

// InsertPageView records a page view, assigning an ID if it has none.
func (s *Store) InsertPageView(ctx context.Context, pv *models.PageView) error {
	if pv == nil || pv.UserID == "" || pv.Path == "" {
		return errors.NewValidationError("page_view", pv, "user id and path are required")
	}
	if pv.ID == "" {
		pv.ID = uuid.NewString()
	}
	if pv.ViewedAt.IsZero() {
		pv.ViewedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO page_views (id, user_id, path, viewed_at) VALUES (?, ?, ?, ?)`,
		pv.ID, pv.UserID, pv.Path, toMillis(pv.ViewedAt),
	)
	if err != nil {
		return errors.WrapResource("insert", "page_view", pv.ID, err)
	}
	return nil
}

// RecentPageViews returns up to limit page views, newest first.
func (s *Store) RecentPageViews(ctx context.Context, limit int) ([]models.PageView, error) {
	if limit <= 0 {
		return nil, errors.NewValidationError("limit", limit, "must be positive")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, path, viewed_at FROM page_views
ORDER BY viewed_at DESC, rowid DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, errors.WrapResource("list", "page_views", "", err)
	}
	defer func() { _ = rows.Close() }()

	views := make([]models.PageView, 0, limit)
	for rows.Next() {
		var pv models.PageView
		var viewedAt int64
		if err := rows.Scan(&pv.ID, &pv.UserID, &pv.Path, &viewedAt); err != nil {
			return nil, errors.WrapResource("scan", "page_view", "", err)
		}
		pv.ViewedAt = fromMillis(viewedAt)
		views = append(views, pv)
	}
	return views, rows.Err()
}

// StartSession records the start of a login session.
func (s *Store) StartSession(ctx context.Context, rec *models.SessionRecord) error {
	if rec == nil || rec.ID == "" || rec.UserID == "" {
		return errors.NewValidationError("session", rec, "session id and user id are required")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, started_at, active_ms) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.UserID, toMillis(rec.StartedAt), rec.ActiveDuration.Milliseconds(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.NewAlreadyExistsError("session", rec.ID)
		}
		return errors.WrapResource("start", "session", rec.ID, err)
	}
	return nil
}

// EndSession marks a session ended. Ending an ended session is a no-op.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET ended_at = COALESCE(ended_at, ?) WHERE id = ?`,
		toMillis(endedAt), id,
	)
	if err != nil {
		return errors.WrapResource("end", "session", id, err)
	}
	return expectRow(res, "session", id)
}

// EndOpenSessions ends every open session, returning how many were
// closed. Sessions live in memory, so any left open belong to a previous
// process.
func (s *Store) EndOpenSessions(ctx context.Context, endedAt time.Time) (int, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE ended_at IS NULL`, toMillis(endedAt))
	if err != nil {
		return 0, errors.WrapResource("end", "sessions", "", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AddSessionDuration adds d to one session's active time. Ended sessions
// still accept it; the final report of a session usually lands after its
// row was closed.
func (s *Store) AddSessionDuration(ctx context.Context, sessionID string, d time.Duration) error {
	if d < 0 {
		return errors.NewValidationError("duration", d, "must be non-negative")
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET active_ms = active_ms + ? WHERE id = ?`,
		d.Milliseconds(), sessionID,
	)
	if err != nil {
		return errors.WrapResource("update", "session", sessionID, err)
	}
	return expectRow(res, "session", sessionID)
}

// AddActiveDuration adds d to the user's newest open session, falling
// back to the newest ended one. It is used when a report carries no
// session ID.
func (s *Store) AddActiveDuration(ctx context.Context, userID string, d time.Duration) error {
	if d < 0 {
		return errors.NewValidationError("duration", d, "must be non-negative")
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET active_ms = active_ms + ?
WHERE id = (
    SELECT id FROM sessions
    WHERE user_id = ?
    ORDER BY (ended_at IS NULL) DESC, started_at DESC, rowid DESC
    LIMIT 1
)`, d.Milliseconds(), userID)
	if err != nil {
		return errors.WrapResource("update", "session", userID, err)
	}
	return expectRow(res, "session for user", userID)
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		return nil, errors.NewValidationError("limit", limit, "must be positive")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, started_at, ended_at, active_ms FROM sessions
ORDER BY started_at DESC, rowid DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, errors.WrapResource("list", "sessions", "", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.SessionRecord
	for rows.Next() {
		var (
			rec       models.SessionRecord
			startedAt int64
			endedAt   sql.NullInt64
			activeMS  int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &startedAt, &endedAt, &activeMS); err != nil {
			return nil, errors.WrapResource("scan", "session", "", err)
		}
		rec.StartedAt = fromMillis(startedAt)
		if endedAt.Valid {
			ended := fromMillis(endedAt.Int64)
			rec.EndedAt = &ended
		}
		rec.ActiveDuration = time.Duration(activeMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats aggregates counts. Page views at or after since count as today.
func (s *Store) Stats(ctx context.Context, since time.Time) (models.Stats, error) {
	var (
		stats models.Stats
		avgMS sql.NullFloat64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL),
    (SELECT COUNT(*) FROM page_views WHERE viewed_at >= ?),
    (SELECT COUNT(*) FROM page_views),
    (SELECT AVG(active_ms) FROM sessions WHERE active_ms > 0)`,
		toMillis(since),
	).Scan(&stats.TotalUsers, &stats.ActiveSessions, &stats.PageViewsToday, &stats.TotalPageViews, &avgMS)
	if err != nil {
		return models.Stats{}, errors.WrapResource("query", "stats", "", err)
	}
	if avgMS.Valid {
		stats.AvgSessionSeconds = avgMS.Float64 / 1000
	}
	return stats, nil
}
