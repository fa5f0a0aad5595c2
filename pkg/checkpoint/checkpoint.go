package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"igmutual/pkg/logger"
	"igmutual/pkg/models"
)

// Status of a relation fetch
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

// CurrentVersion of the checkpoint layout
const CurrentVersion = 1

// ErrStaleCheckpoint is returned when a save would move a checkpoint backwards
var ErrStaleCheckpoint = errors.New("checkpoint is older than the stored one")

// Checkpoint is the partial state of one relation fetch for one check
type Checkpoint struct {
	CheckID    string            `json:"check_id"`
	Relation   string            `json:"relation"`
	Cursor     string            `json:"cursor"`
	Identities []models.Identity `json:"identities"`
	Pages      int               `json:"pages"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Version    int               `json:"version"`
}

// New returns an empty checkpoint for a relation fetch
func New(checkID, relation string) *Checkpoint {
	now := time.Now()
	return &Checkpoint{
		CheckID:   checkID,
		Relation:  relation,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   CurrentVersion,
	}
}

// Advance records one fetched page
func (c *Checkpoint) Advance(identities []models.Identity, nextCursor string, hasNext bool) {
	c.Identities = append(c.Identities, identities...)
	c.Pages++
	c.Cursor = nextCursor
	if hasNext {
		c.Status = StatusInProgress
	} else {
		c.Status = StatusCompleted
		c.Cursor = ""
	}
}

// Done reports whether the relation has been fetched completely
func (c *Checkpoint) Done() bool {
	return c.Status == StatusCompleted
}

// Store persists checkpoints. Load returns nil, nil when nothing is stored.
type Store interface {
	Load(ctx context.Context, checkID, relation string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, checkID string) error
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// FileStore keeps one JSON file per check and relation
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger logger.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string, log logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &FileStore{dir: dir, logger: log.WithField("component", "checkpoint")}, nil
}

func (s *FileStore) path(checkID, relation string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%s.checkpoint.json", checkID, relation))
}

// Load reads the checkpoint of a relation fetch
func (s *FileStore) Load(ctx context.Context, checkID, relation string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(s.path(checkID, relation))
}

func (s *FileStore) load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically. Page counts never move backwards.
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.CheckID == "" || cp.Relation == "" {
		return errors.New("checkpoint requires check id and relation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(cp.CheckID, cp.Relation)
	existing, err := s.load(path)
	if err != nil {
		return err
	}
	if existing != nil && existing.Pages > cp.Pages {
		return fmt.Errorf("%w: stored page %d, saving page %d", ErrStaleCheckpoint, existing.Pages, cp.Pages)
	}

	cp.UpdatedAt = time.Now()
	if cp.Version == 0 {
		cp.Version = CurrentVersion
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"check_id":   cp.CheckID,
		"relation":   cp.Relation,
		"pages":      cp.Pages,
		"identities": len(cp.Identities),
	})
	return nil
}

// Delete removes every checkpoint of a check
func (s *FileStore) Delete(ctx context.Context, checkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, checkID+".*.checkpoint.json"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
	}
	return nil
}

// Purge removes checkpoints not updated since olderThan
func (s *FileStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".checkpoint.json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		cp, err := s.load(path)
		if err != nil {
			s.logger.WithError(err).Warn("Skipping unreadable checkpoint")
			continue
		}
		if cp != nil && cp.UpdatedAt.Before(olderThan) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.InfoWithFields("Purged stale checkpoints", map[string]interface{}{"removed": removed})
	}
	return removed, nil
}
