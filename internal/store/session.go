package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"

	"igmutual/pkg/models"
)

// LoadSession returns the stored session or nil
func (s *Store) LoadSession(ctx context.Context) (*models.Session, error) {
	var sess *models.Session
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		sess = nil
		return execute(conn, `SELECT token, csrf_token, user_id, valid, state, created_at, last_used_at,
				next_refresh_at, consecutive_failures, refresh_attempts, last_error
			FROM session WHERE id = 1`,
			func(stmt *sqlite.Stmt) error {
				sess = &models.Session{
					Token:               stmt.GetText("token"),
					CSRFToken:           stmt.GetText("csrf_token"),
					UserID:              stmt.GetText("user_id"),
					Valid:               stmt.GetInt64("valid") != 0,
					State:               models.SessionState(stmt.GetText("state")),
					CreatedAt:           fromMillis(stmt.GetInt64("created_at")),
					LastUsedAt:          fromMillis(stmt.GetInt64("last_used_at")),
					NextRefreshAt:       fromMillis(stmt.GetInt64("next_refresh_at")),
					ConsecutiveFailures: int(stmt.GetInt64("consecutive_failures")),
					RefreshAttempts:     int(stmt.GetInt64("refresh_attempts")),
					LastError:           stmt.GetText("last_error"),
				}
				return nil
			})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// SaveSession replaces the single session row
func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := execute(conn, `INSERT OR REPLACE INTO session
				(id, token, csrf_token, user_id, valid, state, created_at, last_used_at,
				 next_refresh_at, consecutive_failures, refresh_attempts, last_error)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nil,
			sess.Token, sess.CSRFToken, sess.UserID, boolInt(sess.Valid), string(sess.State),
			millis(sess.CreatedAt), millis(sess.LastUsedAt), millis(sess.NextRefreshAt),
			sess.ConsecutiveFailures, sess.RefreshAttempts, sess.LastError)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}
