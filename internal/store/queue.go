package store

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"

	"igmutual/pkg/models"
)

// ErrAlreadyQueued is returned when a check already has a live queue entry
var ErrAlreadyQueued = errors.New("check already has a queue entry")

const entryColumns = `seq, check_id, status, position, enqueued_at, started_at`

func scanEntry(stmt *sqlite.Stmt) *models.QueueEntry {
	return &models.QueueEntry{
		Seq:        stmt.GetInt64("seq"),
		CheckID:    stmt.GetText("check_id"),
		Status:     models.EntryStatus(stmt.GetText("status")),
		Position:   int(stmt.GetInt64("position")),
		EnqueuedAt: fromMillis(stmt.GetInt64("enqueued_at")),
		StartedAt:  columnTime(stmt, "started_at"),
	}
}

// compactPositions renumbers QUEUED entries 1..n by seq and zeroes the rest.
// Archived rows already at zero are not touched.
func compactPositions(conn *sqlite.Conn) error {
	return execute(conn, `UPDATE queue_entries SET position = CASE
			WHEN status = ? THEN (SELECT COUNT(*) FROM queue_entries q
				WHERE q.status = ? AND q.seq <= queue_entries.seq)
			ELSE 0 END
		WHERE status = ? OR position <> 0`, nil,
		string(models.EntryQueued), string(models.EntryQueued), string(models.EntryQueued))
}

// EnqueueEntry appends a QUEUED entry for the check and returns its position
func (s *Store) EnqueueEntry(ctx context.Context, checkID string) (int, error) {
	var position int
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		var live bool
		err := execute(conn, `SELECT 1 FROM queue_entries WHERE check_id = ? AND status IN (?, ?)`,
			func(stmt *sqlite.Stmt) error {
				live = true
				return nil
			}, checkID, string(models.EntryQueued), string(models.EntryProcessing))
		if err != nil {
			return err
		}
		if live {
			return ErrAlreadyQueued
		}

		// An archived entry of the same check is replaced to keep check_id unique
		if err := execute(conn, `DELETE FROM queue_entries WHERE check_id = ?`, nil, checkID); err != nil {
			return err
		}
		err = execute(conn, `INSERT INTO queue_entries (check_id, status, enqueued_at) VALUES (?, ?, ?)`, nil,
			checkID, string(models.EntryQueued), millis(s.now()))
		if err != nil {
			return fmt.Errorf("failed to insert queue entry: %w", err)
		}
		if err := compactPositions(conn); err != nil {
			return err
		}
		return execute(conn, `SELECT position FROM queue_entries WHERE check_id = ?`,
			func(stmt *sqlite.Stmt) error {
				position = int(stmt.ColumnInt64(0))
				return nil
			}, checkID)
	})
	return position, err
}

// ClaimNext moves the oldest QUEUED entry to PROCESSING unless ceiling
// entries are already PROCESSING. It returns nil when nothing is claimable.
// The count and the claim run in one immediate transaction.
func (s *Store) ClaimNext(ctx context.Context, ceiling int) (*models.QueueEntry, error) {
	var claimed *models.QueueEntry
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		claimed = nil

		var processing int
		err := execute(conn, `SELECT COUNT(*) FROM queue_entries WHERE status = ?`,
			func(stmt *sqlite.Stmt) error {
				processing = int(stmt.ColumnInt64(0))
				return nil
			}, string(models.EntryProcessing))
		if err != nil {
			return err
		}
		if processing >= ceiling {
			return nil
		}

		var next *models.QueueEntry
		err = execute(conn, `SELECT `+entryColumns+` FROM queue_entries
			WHERE status = ? ORDER BY seq LIMIT 1`,
			func(stmt *sqlite.Stmt) error {
				next = scanEntry(stmt)
				return nil
			}, string(models.EntryQueued))
		if err != nil || next == nil {
			return err
		}

		now := s.now()
		err = execute(conn, `UPDATE queue_entries SET status = ?, started_at = ? WHERE seq = ?`, nil,
			string(models.EntryProcessing), millis(now), next.Seq)
		if err != nil {
			return err
		}
		if err := compactPositions(conn); err != nil {
			return err
		}

		next.Status = models.EntryProcessing
		next.Position = 0
		next.StartedAt = &now
		claimed = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	return claimed, nil
}

// SetEntryStatus moves an entry to status. DONE and FAILED archive it;
// QUEUED puts it back in line at its original place.
func (s *Store) SetEntryStatus(ctx context.Context, checkID string, status models.EntryStatus) error {
	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		var err error
		switch status {
		case models.EntryDone, models.EntryFailed:
			err = execute(conn, `UPDATE queue_entries SET status = ?, finished_at = ? WHERE check_id = ?`, nil,
				string(status), millis(s.now()), checkID)
		case models.EntryQueued:
			err = execute(conn, `UPDATE queue_entries SET status = ?, started_at = NULL WHERE check_id = ?`, nil,
				string(status), checkID)
		default:
			return fmt.Errorf("unsupported entry status %q", status)
		}
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("queue entry for %s: %w", checkID, ErrNotFound)
		}
		return compactPositions(conn)
	})
}

// GetEntry returns the queue entry of a check or nil
func (s *Store) GetEntry(ctx context.Context, checkID string) (*models.QueueEntry, error) {
	var entry *models.QueueEntry
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		entry = nil
		return execute(conn, `SELECT `+entryColumns+` FROM queue_entries WHERE check_id = ?`,
			func(stmt *sqlite.Stmt) error {
				entry = scanEntry(stmt)
				return nil
			}, checkID)
	})
	return entry, err
}

// ListEntries returns entries with the given status in FIFO order
func (s *Store) ListEntries(ctx context.Context, status models.EntryStatus) ([]*models.QueueEntry, error) {
	var entries []*models.QueueEntry
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		entries = nil
		return execute(conn, `SELECT `+entryColumns+` FROM queue_entries WHERE status = ? ORDER BY seq`,
			func(stmt *sqlite.Stmt) error {
				entries = append(entries, scanEntry(stmt))
				return nil
			}, string(status))
	})
	return entries, err
}

// CountEntries returns the number of QUEUED and PROCESSING entries
func (s *Store) CountEntries(ctx context.Context) (queued, processing int, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		queued, processing = 0, 0
		return execute(conn, `SELECT status, COUNT(*) FROM queue_entries WHERE status IN (?, ?) GROUP BY status`,
			func(stmt *sqlite.Stmt) error {
				switch models.EntryStatus(stmt.ColumnText(0)) {
				case models.EntryQueued:
					queued = int(stmt.ColumnInt64(1))
				case models.EntryProcessing:
					processing = int(stmt.ColumnInt64(1))
				}
				return nil
			}, string(models.EntryQueued), string(models.EntryProcessing))
	})
	return queued, processing, err
}
