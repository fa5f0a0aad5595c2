package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"

	"igmutual/pkg/checkpoint"
	"igmutual/pkg/models"
)

// CheckpointStore keeps checkpoints in the checkpoints table
type CheckpointStore struct {
	s *Store
}

var _ checkpoint.Store = (*CheckpointStore)(nil)

// Checkpoints returns the sqlite checkpoint backend
func (s *Store) Checkpoints() *CheckpointStore {
	return &CheckpointStore{s: s}
}

// Load returns the checkpoint of a relation fetch or nil
func (c *CheckpointStore) Load(ctx context.Context, checkID, relation string) (*checkpoint.Checkpoint, error) {
	var cp *checkpoint.Checkpoint
	var decodeErr error
	err := c.s.withConn(ctx, func(conn *sqlite.Conn) error {
		cp = nil
		return execute(conn, `SELECT cursor, identities, pages, status, version, created_at, updated_at
			FROM checkpoints WHERE check_id = ? AND relation = ?`,
			func(stmt *sqlite.Stmt) error {
				cp = &checkpoint.Checkpoint{
					CheckID:   checkID,
					Relation:  relation,
					Cursor:    stmt.GetText("cursor"),
					Pages:     int(stmt.GetInt64("pages")),
					Status:    checkpoint.Status(stmt.GetText("status")),
					Version:   int(stmt.GetInt64("version")),
					CreatedAt: fromMillis(stmt.GetInt64("created_at")),
					UpdatedAt: fromMillis(stmt.GetInt64("updated_at")),
				}
				decodeErr = json.Unmarshal([]byte(stmt.GetText("identities")), &cp.Identities)
				return nil
			}, checkID, relation)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode checkpoint identities: %w", decodeErr)
	}
	return cp, nil
}

// Save upserts the checkpoint. Page counts never move backwards.
func (c *CheckpointStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil || cp.CheckID == "" || cp.Relation == "" {
		return fmt.Errorf("checkpoint requires check id and relation")
	}

	identities := cp.Identities
	if identities == nil {
		identities = []models.Identity{}
	}
	data, err := json.Marshal(identities)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint identities: %w", err)
	}

	return c.s.withTx(ctx, func(conn *sqlite.Conn) error {
		stored := -1
		err := execute(conn, `SELECT pages FROM checkpoints WHERE check_id = ? AND relation = ?`,
			func(stmt *sqlite.Stmt) error {
				stored = int(stmt.ColumnInt64(0))
				return nil
			}, cp.CheckID, cp.Relation)
		if err != nil {
			return err
		}
		if stored > cp.Pages {
			return fmt.Errorf("%w: stored page %d, saving page %d", checkpoint.ErrStaleCheckpoint, stored, cp.Pages)
		}

		now := c.s.now()
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		if cp.Version == 0 {
			cp.Version = checkpoint.CurrentVersion
		}
		cp.UpdatedAt = now

		return execute(conn, `INSERT INTO checkpoints
				(check_id, relation, cursor, identities, pages, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (check_id, relation) DO UPDATE SET
				cursor = excluded.cursor, identities = excluded.identities, pages = excluded.pages,
				status = excluded.status, version = excluded.version, updated_at = excluded.updated_at`, nil,
			cp.CheckID, cp.Relation, cp.Cursor, string(data), cp.Pages, string(cp.Status), cp.Version,
			millis(cp.CreatedAt), millis(cp.UpdatedAt))
	})
}

// Delete removes every checkpoint of a check
func (c *CheckpointStore) Delete(ctx context.Context, checkID string) error {
	return c.s.withConn(ctx, func(conn *sqlite.Conn) error {
		return execute(conn, `DELETE FROM checkpoints WHERE check_id = ?`, nil, checkID)
	})
}

// Purge removes checkpoints not updated since olderThan
func (c *CheckpointStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	var removed int
	err := c.s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := execute(conn, `DELETE FROM checkpoints WHERE updated_at < ?`, nil, millis(olderThan)); err != nil {
			return err
		}
		removed = conn.Changes()
		return nil
	})
	return removed, err
}
