package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"

	"igmutual/pkg/checkpoint"
	"igmutual/pkg/logger"
	"igmutual/pkg/models"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func newCheck(id, target string) *models.Check {
	return &models.Check{
		ID:       id,
		Platform: models.PlatformInstagram,
		Target:   target,
		Status:   models.CheckQueued,
	}
}

func TestCheckLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.CreateCheck(ctx, newCheck("c1", "alice")))

	got, err := s.GetCheck(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Target)
	assert.Equal(t, models.CheckQueued, got.Status)
	assert.Nil(t, got.StartedAt)

	missing, err := s.GetCheck(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	started := time.Now()
	got.Status = models.CheckProcessing
	got.StartedAt = &started
	got.TargetID = "123"
	require.NoError(t, s.UpdateCheck(ctx, got))
	require.NoError(t, s.UpdateProgress(ctx, "c1", 40))

	got, err = s.GetCheck(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "123", got.TargetID)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, started.UnixMilli(), got.StartedAt.UnixMilli())

	err = s.UpdateCheck(ctx, newCheck("ghost", "x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelRequest(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	require.NoError(t, s.CreateCheck(ctx, newCheck("c1", "alice")))

	ok, err := s.RequestCancel(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	requested, err := s.CancelRequested(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, requested)

	// UpdateCheck must not clear the flag
	c, _ := s.GetCheck(ctx, "c1")
	c.CancelRequested = false
	require.NoError(t, s.UpdateCheck(ctx, c))
	requested, _ = s.CancelRequested(ctx, "c1")
	assert.True(t, requested)

	c.Status = models.CheckFailed
	require.NoError(t, s.UpdateCheck(ctx, c))
	ok, err = s.RequestCancel(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok, "terminal checks cannot be cancelled")
}

func TestCompleteCheckAndResults(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	require.NoError(t, s.CreateCheck(ctx, newCheck("c1", "alice")))

	c, _ := s.GetCheck(ctx, "c1")
	done := time.Now()
	c.CompletedAt = &done
	c.Counts = models.Counts{Following: 3, Followers: 1, NonMutual: 2}
	results := []models.NonMutualResult{
		{Identity: models.Identity{ExternalID: "1", Handle: "a", IsVerified: true}},
		{Identity: models.Identity{ExternalID: "3", Handle: "c"}},
	}
	require.NoError(t, s.CompleteCheck(ctx, c, results))

	got, _ := s.GetCheck(ctx, "c1")
	assert.Equal(t, models.CheckCompleted, got.Status)
	assert.Equal(t, 2, got.Counts.NonMutual)

	rows, err := s.GetResults(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Ordinal)
	assert.Equal(t, "a", rows[0].Handle)
	assert.True(t, rows[0].IsVerified)
	assert.Equal(t, "c", rows[1].Handle)
}

func TestFindFreshCompleted(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	for id, at := range map[string]time.Time{"old": old, "recent": recent} {
		c := newCheck(id, "alice")
		require.NoError(t, s.CreateCheck(ctx, c))
		completed := at
		c.CompletedAt = &completed
		require.NoError(t, s.CompleteCheck(ctx, c, nil))
	}

	// Cached copies never serve as a source
	cached := newCheck("cached", "alice")
	require.NoError(t, s.CreateCheck(ctx, cached))
	now := time.Now()
	cached.CompletedAt = &now
	cached.CacheUsed = true
	require.NoError(t, s.CompleteCheck(ctx, cached, nil))

	found, err := s.FindFreshCompleted(ctx, models.PlatformInstagram, "alice", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "recent", found.ID)

	none, err := s.FindFreshCompleted(ctx, models.PlatformInstagram, "bob", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQueueFIFOAndPositions(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateCheck(ctx, newCheck(id, id)))
		pos, err := s.EnqueueEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
	}

	_, err := s.EnqueueEntry(ctx, "a")
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	entry, err := s.ClaimNext(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "a", entry.CheckID)
	assert.Equal(t, models.EntryProcessing, entry.Status)

	// Ceiling reached
	blocked, err := s.ClaimNext(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, blocked)

	// Positions compact once a leaves QUEUED
	b, _ := s.GetEntry(ctx, "b")
	c, _ := s.GetEntry(ctx, "c")
	assert.Equal(t, 1, b.Position)
	assert.Equal(t, 2, c.Position)

	require.NoError(t, s.SetEntryStatus(ctx, "a", models.EntryFailed))
	entry, err = s.ClaimNext(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "b", entry.CheckID)

	queued, processing, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.Equal(t, 1, processing)
}

func TestCompactPositionsSkipsArchivedEntries(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateCheck(ctx, newCheck(id, id)))
		_, err := s.EnqueueEntry(ctx, id)
		require.NoError(t, err)
	}
	for _, st := range []models.EntryStatus{models.EntryDone, models.EntryFailed} {
		entry, err := s.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, s.SetEntryStatus(ctx, entry.CheckID, st))
	}

	var changed int
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		if err := compactPositions(conn); err != nil {
			return err
		}
		changed = conn.Changes()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed, "only the queued entry is renumbered")

	c, _ := s.GetEntry(ctx, "c")
	assert.Equal(t, 1, c.Position)
	a, _ := s.GetEntry(ctx, "a")
	assert.Equal(t, 0, a.Position)
}

func TestRequeueKeepsPlace(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.CreateCheck(ctx, newCheck(id, id)))
		_, err := s.EnqueueEntry(ctx, id)
		require.NoError(t, err)
	}

	entry, _ := s.ClaimNext(ctx, 1)
	require.Equal(t, "a", entry.CheckID)

	interrupted, err := s.ListEntries(ctx, models.EntryProcessing)
	require.NoError(t, err)
	require.Len(t, interrupted, 1)

	require.NoError(t, s.SetEntryStatus(ctx, "a", models.EntryQueued))
	a, _ := s.GetEntry(ctx, "a")
	assert.Equal(t, 1, a.Position)
	assert.Nil(t, a.StartedAt)

	entry, _ = s.ClaimNext(ctx, 1)
	assert.Equal(t, "a", entry.CheckID)
}

func TestClaimNextRespectsCeilingConcurrently(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)

	// A second connection to the same file behaves like another process
	other, err := Open(ctx, path, logger.NewNopLogger())
	require.NoError(t, err)
	defer other.Close()

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		require.NoError(t, s.CreateCheck(ctx, newCheck(id, id)))
		_, err := s.EnqueueEntry(ctx, id)
		require.NoError(t, err)
	}

	const ceiling = 2
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
	)
	for i := 0; i < 20; i++ {
		st := s
		if i%2 == 1 {
			st = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := st.ClaimNext(ctx, ceiling)
			assert.NoError(t, err)
			if entry != nil {
				mu.Lock()
				claimed = append(claimed, entry.CheckID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, ceiling)
	_, processing, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, ceiling, processing)
}

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	cps := s.Checkpoints()

	cp, err := cps.Load(ctx, "c1", "following")
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp = checkpoint.New("c1", "following")
	cp.Advance([]models.Identity{{ExternalID: "1", Handle: "a"}}, "cur-1", true)
	require.NoError(t, cps.Save(ctx, cp))

	cp.Advance([]models.Identity{{ExternalID: "2", Handle: "b"}}, "", false)
	require.NoError(t, cps.Save(ctx, cp))

	loaded, err := cps.Load(ctx, "c1", "following")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.Pages)
	assert.True(t, loaded.Done())
	require.Len(t, loaded.Identities, 2)
	assert.Equal(t, "b", loaded.Identities[1].Handle)

	stale := checkpoint.New("c1", "following")
	stale.Advance(nil, "cur-1", true)
	assert.ErrorIs(t, cps.Save(ctx, stale), checkpoint.ErrStaleCheckpoint)

	require.NoError(t, cps.Save(ctx, checkpoint.New("c1", "followers")))
	require.NoError(t, cps.Delete(ctx, "c1"))
	loaded, _ = cps.Load(ctx, "c1", "followers")
	assert.Nil(t, loaded)
}

func TestCheckpointPurge(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	cps := s.Checkpoints()

	s.SetClock(func() time.Time { return time.Now().Add(-10 * 24 * time.Hour) })
	require.NoError(t, cps.Save(ctx, checkpoint.New("old", "following")))
	s.SetClock(time.Now)
	require.NoError(t, cps.Save(ctx, checkpoint.New("new", "following")))

	removed, err := cps.Purge(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	sess, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	now := time.Now()
	require.NoError(t, s.SaveSession(ctx, &models.Session{
		Token:         "token-1",
		Valid:         true,
		State:         models.SessionActive,
		CreatedAt:     now,
		LastUsedAt:    now,
		NextRefreshAt: now.Add(72 * time.Hour),
	}))
	require.NoError(t, s.SaveSession(ctx, &models.Session{
		Token:               "token-2",
		State:               models.SessionInvalid,
		CreatedAt:           now,
		ConsecutiveFailures: 2,
		LastError:           "login failed",
	}))

	sess, err = s.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "token-2", sess.Token)
	assert.Equal(t, models.SessionInvalid, sess.State)
	assert.Equal(t, 2, sess.ConsecutiveFailures)
	assert.True(t, sess.LastUsedAt.IsZero())
}

func TestAverageDuration(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	_, ok, err := s.AverageDuration(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	base := time.Now().Add(-time.Hour)
	for i, d := range []time.Duration{time.Minute, 3 * time.Minute} {
		c := newCheck(string(rune('a'+i)), "t")
		require.NoError(t, s.CreateCheck(ctx, c))
		start := base
		end := base.Add(d)
		c.StartedAt = &start
		c.CompletedAt = &end
		require.NoError(t, s.CompleteCheck(ctx, c, nil))
	}

	avg, ok, err := s.AverageDuration(ctx, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, avg)
}
