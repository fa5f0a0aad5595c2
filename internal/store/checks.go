package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"

	"igmutual/pkg/models"
)

const checkColumns = `id, platform, target, target_id, status, progress,
	total_following, total_followers, total_non_mutual, error_reason, error_message,
	cache_used, source_check_id, cancel_requested, created_at, started_at, completed_at`

func scanCheck(stmt *sqlite.Stmt) *models.Check {
	return &models.Check{
		ID:       stmt.GetText("id"),
		Platform: stmt.GetText("platform"),
		Target:   stmt.GetText("target"),
		TargetID: stmt.GetText("target_id"),
		Status:   models.CheckStatus(stmt.GetText("status")),
		Progress: int(stmt.GetInt64("progress")),
		Counts: models.Counts{
			Following: int(stmt.GetInt64("total_following")),
			Followers: int(stmt.GetInt64("total_followers")),
			NonMutual: int(stmt.GetInt64("total_non_mutual")),
		},
		ErrorReason:     stmt.GetText("error_reason"),
		ErrorMessage:    stmt.GetText("error_message"),
		CacheUsed:       stmt.GetInt64("cache_used") != 0,
		SourceCheckID:   stmt.GetText("source_check_id"),
		CancelRequested: stmt.GetInt64("cancel_requested") != 0,
		CreatedAt:       fromMillis(stmt.GetInt64("created_at")),
		StartedAt:       columnTime(stmt, "started_at"),
		CompletedAt:     columnTime(stmt, "completed_at"),
	}
}

// CreateCheck inserts a new check
func (s *Store) CreateCheck(ctx context.Context, c *models.Check) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := execute(conn, `INSERT INTO checks (`+checkColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nil,
			c.ID, c.Platform, c.Target, c.TargetID, string(c.Status), c.Progress,
			c.Counts.Following, c.Counts.Followers, c.Counts.NonMutual, c.ErrorReason, c.ErrorMessage,
			boolInt(c.CacheUsed), c.SourceCheckID, boolInt(c.CancelRequested),
			millis(c.CreatedAt), nullMillis(c.StartedAt), nullMillis(c.CompletedAt))
		if err != nil {
			return fmt.Errorf("failed to insert check: %w", err)
		}
		return nil
	})
}

// GetCheck returns the check or nil, nil when it does not exist
func (s *Store) GetCheck(ctx context.Context, id string) (*models.Check, error) {
	var check *models.Check
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		check = nil
		return execute(conn, `SELECT `+checkColumns+` FROM checks WHERE id = ?`,
			func(stmt *sqlite.Stmt) error {
				check = scanCheck(stmt)
				return nil
			}, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get check: %w", err)
	}
	return check, nil
}

// UpdateCheck writes the mutable fields of a check. CancelRequested is
// owned by RequestCancel and is not overwritten here.
func (s *Store) UpdateCheck(ctx context.Context, c *models.Check) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return updateCheck(conn, c)
	})
}

func updateCheck(conn *sqlite.Conn, c *models.Check) error {
	err := execute(conn, `UPDATE checks SET
			target = ?, target_id = ?, status = ?, progress = ?,
			total_following = ?, total_followers = ?, total_non_mutual = ?,
			error_reason = ?, error_message = ?, cache_used = ?, source_check_id = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?`, nil,
		c.Target, c.TargetID, string(c.Status), c.Progress,
		c.Counts.Following, c.Counts.Followers, c.Counts.NonMutual,
		c.ErrorReason, c.ErrorMessage, boolInt(c.CacheUsed), c.SourceCheckID,
		nullMillis(c.StartedAt), nullMillis(c.CompletedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update check: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("check %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

// UpdateProgress sets the progress percentage of a check
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return execute(conn, `UPDATE checks SET progress = ? WHERE id = ?`, nil, progress, id)
	})
}

// RequestCancel flags a check for cancellation. It reports false when the
// check is unknown or already terminal.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	var changed bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := execute(conn, `UPDATE checks SET cancel_requested = 1
			WHERE id = ? AND status IN (?, ?)`, nil,
			id, string(models.CheckQueued), string(models.CheckProcessing))
		changed = conn.Changes() > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to request cancel: %w", err)
	}
	return changed, nil
}

// CancelRequested reports whether a cancel was requested for the check
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return execute(conn, `SELECT cancel_requested FROM checks WHERE id = ?`,
			func(stmt *sqlite.Stmt) error {
				requested = stmt.ColumnInt64(0) != 0
				return nil
			}, id)
	})
	return requested, err
}

// FindFreshCompleted returns the most recent completed, non-cached check of
// the target finished at or after since, or nil.
func (s *Store) FindFreshCompleted(ctx context.Context, platform, target string, since time.Time) (*models.Check, error) {
	var check *models.Check
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		check = nil
		return execute(conn, `SELECT `+checkColumns+` FROM checks
			WHERE platform = ? AND target = ? AND status = ? AND cache_used = 0
				AND completed_at >= ?
			ORDER BY completed_at DESC LIMIT 1`,
			func(stmt *sqlite.Stmt) error {
				check = scanCheck(stmt)
				return nil
			}, platform, target, string(models.CheckCompleted), millis(since))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find fresh check: %w", err)
	}
	return check, nil
}

// CompleteCheck stores the results and marks the check COMPLETED in one
// transaction, so results exist only for completed checks.
func (s *Store) CompleteCheck(ctx context.Context, c *models.Check, results []models.NonMutualResult) error {
	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		if err := execute(conn, `DELETE FROM results WHERE check_id = ?`, nil, c.ID); err != nil {
			return err
		}
		for i, r := range results {
			err := execute(conn, `INSERT INTO results
				(check_id, ordinal, external_id, handle, display_name, avatar_url, is_private, is_verified)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nil,
				c.ID, i+1, r.ExternalID, r.Handle, r.DisplayName, r.AvatarURL,
				boolInt(r.IsPrivate), boolInt(r.IsVerified))
			if err != nil {
				return fmt.Errorf("failed to insert result: %w", err)
			}
		}
		c.Status = models.CheckCompleted
		return updateCheck(conn, c)
	})
}

// GetResults returns the non-mutual rows of a check in ordinal order
func (s *Store) GetResults(ctx context.Context, checkID string) ([]models.NonMutualResult, error) {
	var results []models.NonMutualResult
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		results = nil
		return execute(conn, `SELECT ordinal, external_id, handle, display_name, avatar_url, is_private, is_verified
			FROM results WHERE check_id = ? ORDER BY ordinal`,
			func(stmt *sqlite.Stmt) error {
				results = append(results, models.NonMutualResult{
					CheckID: checkID,
					Ordinal: int(stmt.GetInt64("ordinal")),
					Identity: models.Identity{
						ExternalID:  stmt.GetText("external_id"),
						Handle:      stmt.GetText("handle"),
						DisplayName: stmt.GetText("display_name"),
						AvatarURL:   stmt.GetText("avatar_url"),
						IsPrivate:   stmt.GetInt64("is_private") != 0,
						IsVerified:  stmt.GetInt64("is_verified") != 0,
					},
				})
				return nil
			}, checkID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}
	return results, nil
}

// AverageDuration returns the mean run time of the last n scraped checks.
// ok is false when there is no history.
func (s *Store) AverageDuration(ctx context.Context, n int) (avg time.Duration, ok bool, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return execute(conn, `SELECT AVG(completed_at - started_at), COUNT(*) FROM (
				SELECT started_at, completed_at FROM checks
				WHERE status = ? AND cache_used = 0 AND started_at IS NOT NULL AND completed_at IS NOT NULL
				ORDER BY completed_at DESC LIMIT ?)`,
			func(stmt *sqlite.Stmt) error {
				if stmt.ColumnInt64(1) > 0 {
					avg = time.Duration(stmt.ColumnFloat(0) * float64(time.Millisecond))
					ok = true
				}
				return nil
			}, string(models.CheckCompleted), n)
	})
	return avg, ok, err
}
