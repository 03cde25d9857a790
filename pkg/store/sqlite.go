package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/models"
)

// Store wraps *sql.DB over a pure-Go SQLite driver. It owns three tables:
// linked_accounts (one active row per subject+platform), metrics_snapshots
// (append-only history) and current_snapshots (the upserted cache row),
// plus oauth_tokens with rotation semantics.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer keeps the driver's locking simple
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS linked_accounts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            subject_id INTEGER NOT NULL,
            platform TEXT NOT NULL,
            username TEXT NOT NULL,
            mode TEXT NOT NULL,
            active INTEGER NOT NULL DEFAULT 1,
            last_sync_at TIMESTAMP,
            last_sync_status TEXT NOT NULL DEFAULT 'pending',
            last_error TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL,
            UNIQUE(subject_id, platform)
        );`,
		`CREATE TABLE IF NOT EXISTS metrics_snapshots (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            subject_id INTEGER NOT NULL,
            platform TEXT NOT NULL,
            method TEXT NOT NULL,
            is_placeholder INTEGER NOT NULL DEFAULT 0,
            profile_json TEXT NOT NULL,
            metrics_json TEXT NOT NULL,
            posts_json TEXT NOT NULL,
            top_post_json TEXT,
            captured_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_subject
            ON metrics_snapshots(subject_id, platform, captured_at);`,
		`CREATE TABLE IF NOT EXISTS current_snapshots (
            subject_id INTEGER NOT NULL,
            platform TEXT NOT NULL,
            method TEXT NOT NULL,
            is_placeholder INTEGER NOT NULL DEFAULT 0,
            profile_json TEXT NOT NULL,
            metrics_json TEXT NOT NULL,
            posts_json TEXT NOT NULL,
            top_post_json TEXT,
            captured_at TIMESTAMP,
            PRIMARY KEY(subject_id, platform)
        );`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            subject_id INTEGER NOT NULL,
            platform TEXT NOT NULL,
            access_token TEXT NOT NULL,
            refresh_token TEXT NOT NULL DEFAULT '',
            platform_user_id TEXT NOT NULL DEFAULT '',
            expires_at TIMESTAMP,
            is_active INTEGER NOT NULL DEFAULT 1,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_subject
            ON oauth_tokens(subject_id, platform, is_active);`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

// Link upserts a linked account for (subject, platform). An existing row in
// oauth mode is never downgraded to scraping by a later scraping link; the
// reverse upgrade is allowed.
func (s *Store) Link(ctx context.Context, subjectID int64, platform, username, mode string) (*models.LinkedAccount, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO linked_accounts
        (subject_id, platform, username, mode, active, last_sync_status, created_at, updated_at)
        VALUES(?,?,?,?,1,?,?,?)
        ON CONFLICT(subject_id, platform) DO UPDATE SET
            username = excluded.username,
            mode = CASE WHEN linked_accounts.mode = 'oauth' AND excluded.mode = 'scraping'
                        THEN 'oauth' ELSE excluded.mode END,
            active = 1,
            updated_at = excluded.updated_at`,
		subjectID, platform, username, mode, models.SyncStatusPending, now, now)
	if err != nil {
		return nil, fmt.Errorf("link account subject=%d: %w", subjectID, err)
	}

	return s.Account(ctx, subjectID, platform)
}

// Account returns the active linked account, or ErrNotLinked.
func (s *Store) Account(ctx context.Context, subjectID int64, platform string) (*models.LinkedAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, subject_id, platform, username, mode, active,
        last_sync_at, last_sync_status, last_error, created_at, updated_at
        FROM linked_accounts WHERE subject_id = ? AND platform = ? AND active = 1`,
		subjectID, platform)

	var a models.LinkedAccount
	var lastSync sql.NullTime
	var active int
	err := row.Scan(&a.ID, &a.SubjectID, &a.Platform, &a.Username, &a.Mode, &active,
		&lastSync, &a.LastSyncStatus, &a.LastError, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("query account subject=%d: %w", subjectID, err)
	}

	a.Active = active == 1
	if lastSync.Valid {
		t := lastSync.Time
		a.LastSyncAt = &t
	}
	return &a, nil
}

// Deactivate soft-deletes the linked account. The row survives so history
// stays addressable; a later Link reactivates it.
func (s *Store) Deactivate(ctx context.Context, subjectID int64, platform string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE linked_accounts SET active = 0, updated_at = ?
        WHERE subject_id = ? AND platform = ?`,
		time.Now().UTC(), subjectID, platform)
	if err != nil {
		return fmt.Errorf("deactivate account subject=%d: %w", subjectID, err)
	}
	return nil
}

// MarkSync records the outcome of an acquisition attempt on the account.
func (s *Store) MarkSync(ctx context.Context, subjectID int64, platform, status, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE linked_accounts SET
        last_sync_at = ?, last_sync_status = ?, last_error = ?, updated_at = ?
        WHERE subject_id = ? AND platform = ?`,
		now, status, errMsg, now, subjectID, platform)
	if err != nil {
		return fmt.Errorf("mark sync subject=%d: %w", subjectID, err)
	}
	return nil
}

// SetCurrent upserts the cache row for (subject, platform).
func (s *Store) SetCurrent(ctx context.Context, snap *models.Snapshot) error {
	profileJSON, metricsJSON, postsJSON, topJSON, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO current_snapshots
        (subject_id, platform, method, is_placeholder, profile_json, metrics_json, posts_json, top_post_json, captured_at)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(subject_id, platform) DO UPDATE SET
            method = excluded.method,
            is_placeholder = excluded.is_placeholder,
            profile_json = excluded.profile_json,
            metrics_json = excluded.metrics_json,
            posts_json = excluded.posts_json,
            top_post_json = excluded.top_post_json,
            captured_at = excluded.captured_at`,
		snap.SubjectID, snap.Platform, snap.Method, boolToInt(snap.IsPlaceholder),
		profileJSON, metricsJSON, postsJSON, topJSON, snap.CapturedAt)
	if err != nil {
		return fmt.Errorf("set current subject=%d: %w", snap.SubjectID, err)
	}
	return nil
}

// Current returns the cache row regardless of age, or nil when absent or
// invalidated.
func (s *Store) Current(ctx context.Context, subjectID int64, platform string) (*models.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT method, is_placeholder,
        profile_json, metrics_json, posts_json, top_post_json, captured_at
        FROM current_snapshots WHERE subject_id = ? AND platform = ?`,
		subjectID, platform)

	snap := &models.Snapshot{SubjectID: subjectID, Platform: platform}
	var placeholder int
	var profileJSON, metricsJSON, postsJSON string
	var topJSON sql.NullString
	var capturedAt sql.NullTime

	err := row.Scan(&snap.Method, &placeholder, &profileJSON, &metricsJSON, &postsJSON, &topJSON, &capturedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query current subject=%d: %w", subjectID, err)
	}

	// A nulled captured_at means the row was invalidated
	if !capturedAt.Valid {
		return nil, nil
	}
	snap.CapturedAt = capturedAt.Time
	snap.IsPlaceholder = placeholder == 1

	if err := unmarshalSnapshot(snap, profileJSON, metricsJSON, postsJSON, topJSON); err != nil {
		return nil, err
	}
	return snap, nil
}

// InvalidateCurrent nulls the capture timestamp so the next read misses,
// whatever the row's age. The payload stays in place for forensics.
func (s *Store) InvalidateCurrent(ctx context.Context, subjectID int64, platform string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE current_snapshots SET captured_at = NULL
        WHERE subject_id = ? AND platform = ?`, subjectID, platform)
	if err != nil {
		return fmt.Errorf("invalidate current subject=%d: %w", subjectID, err)
	}
	return nil
}

// AppendHistory inserts an immutable history row. Never updates.
func (s *Store) AppendHistory(ctx context.Context, snap *models.Snapshot) (int64, error) {
	profileJSON, metricsJSON, postsJSON, topJSON, err := marshalSnapshot(snap)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO metrics_snapshots
        (subject_id, platform, method, is_placeholder, profile_json, metrics_json, posts_json, top_post_json, captured_at)
        VALUES(?,?,?,?,?,?,?,?,?)`,
		snap.SubjectID, snap.Platform, snap.Method, boolToInt(snap.IsPlaceholder),
		profileJSON, metricsJSON, postsJSON, topJSON, snap.CapturedAt)
	if err != nil {
		return 0, fmt.Errorf("append history subject=%d: %w", snap.SubjectID, err)
	}
	return res.LastInsertId()
}

// History returns up to limit snapshots, newest first.
func (s *Store) History(ctx context.Context, subjectID int64, platform string, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, method, is_placeholder,
        profile_json, metrics_json, posts_json, top_post_json, captured_at
        FROM metrics_snapshots WHERE subject_id = ? AND platform = ?
        ORDER BY captured_at DESC, id DESC LIMIT ?`,
		subjectID, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("query history subject=%d: %w", subjectID, err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		snap := models.Snapshot{SubjectID: subjectID, Platform: platform}
		var placeholder int
		var profileJSON, metricsJSON, postsJSON string
		var topJSON sql.NullString

		if err := rows.Scan(&snap.ID, &snap.Method, &placeholder,
			&profileJSON, &metricsJSON, &postsJSON, &topJSON, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		snap.IsPlaceholder = placeholder == 1
		if err := unmarshalSnapshot(&snap, profileJSON, metricsJSON, postsJSON, topJSON); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneHistory deletes snapshots for the pair captured before the
// cutoff. The current row on linked_accounts is untouched.
func (s *Store) PruneHistory(ctx context.Context, subjectID int64, platform string, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metrics_snapshots
        WHERE subject_id = ? AND platform = ? AND captured_at < ?`,
		subjectID, platform, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune history subject=%d: %w", subjectID, err)
	}
	return res.RowsAffected()
}

// SaveToken rotates tokens: every prior token for the pair is deactivated
// in the same transaction that inserts the new active one.
func (s *Store) SaveToken(ctx context.Context, token *models.OAuthToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin token rotation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE oauth_tokens SET is_active = 0
        WHERE subject_id = ? AND platform = ?`,
		token.SubjectID, token.Platform); err != nil {
		return fmt.Errorf("deactivate prior tokens subject=%d: %w", token.SubjectID, err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO oauth_tokens
        (subject_id, platform, access_token, refresh_token, platform_user_id, expires_at, is_active, created_at)
        VALUES(?,?,?,?,?,?,1,?)`,
		token.SubjectID, token.Platform, token.AccessToken, token.RefreshToken,
		token.PlatformUserID, token.ExpiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert token subject=%d: %w", token.SubjectID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit token rotation: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		token.ID = id
	}
	token.IsActive = true
	return nil
}

// ActiveToken returns the single active token, or ErrNoActiveToken.
func (s *Store) ActiveToken(ctx context.Context, subjectID int64, platform string) (*models.OAuthToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, subject_id, platform, access_token, refresh_token,
        platform_user_id, expires_at, created_at
        FROM oauth_tokens WHERE subject_id = ? AND platform = ? AND is_active = 1
        ORDER BY id DESC LIMIT 1`,
		subjectID, platform)

	var t models.OAuthToken
	var expires sql.NullTime
	err := row.Scan(&t.ID, &t.SubjectID, &t.Platform, &t.AccessToken, &t.RefreshToken,
		&t.PlatformUserID, &expires, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNoActiveToken
	}
	if err != nil {
		return nil, fmt.Errorf("query token subject=%d: %w", subjectID, err)
	}

	if expires.Valid {
		t.ExpiresAt = expires.Time
	}
	t.IsActive = true
	return &t, nil
}

// DeactivateTokens deactivates every token for the pair without inserting
// a replacement. Used on unlink.
func (s *Store) DeactivateTokens(ctx context.Context, subjectID int64, platform string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE oauth_tokens SET is_active = 0
        WHERE subject_id = ? AND platform = ?`, subjectID, platform)
	if err != nil {
		return fmt.Errorf("deactivate tokens subject=%d: %w", subjectID, err)
	}
	return nil
}

func marshalSnapshot(snap *models.Snapshot) (profile, metrics, posts string, top sql.NullString, err error) {
	p, err := json.Marshal(snap.Profile)
	if err != nil {
		return "", "", "", sql.NullString{}, fmt.Errorf("marshal profile: %w", err)
	}
	m, err := json.Marshal(snap.Metrics)
	if err != nil {
		return "", "", "", sql.NullString{}, fmt.Errorf("marshal metrics: %w", err)
	}
	recent := snap.RecentPosts
	if recent == nil {
		recent = []models.Post{}
	}
	r, err := json.Marshal(recent)
	if err != nil {
		return "", "", "", sql.NullString{}, fmt.Errorf("marshal posts: %w", err)
	}
	if snap.TopPost != nil {
		tp, err := json.Marshal(snap.TopPost)
		if err != nil {
			return "", "", "", sql.NullString{}, fmt.Errorf("marshal top post: %w", err)
		}
		top = sql.NullString{String: string(tp), Valid: true}
	}
	return string(p), string(m), string(r), top, nil
}

func unmarshalSnapshot(snap *models.Snapshot, profileJSON, metricsJSON, postsJSON string, topJSON sql.NullString) error {
	if err := json.Unmarshal([]byte(profileJSON), &snap.Profile); err != nil {
		return fmt.Errorf("unmarshal profile: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &snap.Metrics); err != nil {
		return fmt.Errorf("unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(postsJSON), &snap.RecentPosts); err != nil {
		return fmt.Errorf("unmarshal posts: %w", err)
	}
	if topJSON.Valid {
		var top models.Post
		if err := json.Unmarshal([]byte(topJSON.String), &top); err != nil {
			return fmt.Errorf("unmarshal top post: %w", err)
		}
		snap.TopPost = &top
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
