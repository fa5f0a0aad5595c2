package worker

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"igmutual/internal/store"
	"igmutual/pkg/logger"
	"igmutual/pkg/models"
	"igmutual/pkg/queue"
)

// recorder tracks handler invocations and the peak concurrency
type recorder struct {
	mu      sync.Mutex
	order   []string
	running int32
	peak    int32
}

func (r *recorder) enter(id string) {
	n := atomic.AddInt32(&r.running, 1)
	for {
		p := atomic.LoadInt32(&r.peak)
		if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
			break
		}
	}
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
}

func (r *recorder) leave() {
	atomic.AddInt32(&r.running, -1)
}

func (r *recorder) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func newQueue(t *testing.T, ceiling int, ids ...string) *queue.Queue {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "worker.db"), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := queue.New(s, ceiling)
	for _, id := range ids {
		if err := s.CreateCheck(ctx, &models.Check{ID: id, Platform: models.PlatformInstagram, Target: id, Status: models.CheckQueued}); err != nil {
			t.Fatalf("failed to create check: %v", err)
		}
		if _, err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
	}
	return q
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatcherRunsInOrderOneAtATime(t *testing.T) {
	q := newQueue(t, 1, "A", "B", "C")
	rec := &recorder{}

	handler := func(ctx context.Context, entry *models.QueueEntry) {
		rec.enter(entry.CheckID)
		time.Sleep(20 * time.Millisecond)
		rec.leave()
		if err := q.Mark(ctx, entry.CheckID, models.EntryDone); err != nil {
			t.Errorf("failed to mark %s: %v", entry.CheckID, err)
		}
	}

	d := NewDispatcher(q, handler, q.Ceiling(), time.Hour, WithLogger(logger.NewNopLogger()))
	d.Start(context.Background())
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(rec.started()) == 3 })

	got := rec.started()
	want := []string{"A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("start order = %v, want %v", got, want)
			break
		}
	}
	if peak := atomic.LoadInt32(&rec.peak); peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestDispatcherRespectsCeiling(t *testing.T) {
	q := newQueue(t, 2, "A", "B", "C", "D", "E")
	rec := &recorder{}

	handler := func(ctx context.Context, entry *models.QueueEntry) {
		rec.enter(entry.CheckID)
		time.Sleep(30 * time.Millisecond)
		rec.leave()
		_ = q.Mark(ctx, entry.CheckID, models.EntryDone)
	}

	// More workers than the queue ceiling: the queue still caps concurrency
	d := NewDispatcher(q, handler, 4, time.Hour, WithLogger(logger.NewNopLogger()))
	d.Start(context.Background())
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(rec.started()) == 5 })

	if peak := atomic.LoadInt32(&rec.peak); peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
}

func TestDispatcherPause(t *testing.T) {
	q := newQueue(t, 1, "A")
	var paused atomic.Bool
	paused.Store(true)
	var runs atomic.Int32

	handler := func(ctx context.Context, entry *models.QueueEntry) {
		runs.Add(1)
		_ = q.Mark(ctx, entry.CheckID, models.EntryDone)
	}

	d := NewDispatcher(q, handler, 1, 10*time.Millisecond,
		WithLogger(logger.NewNopLogger()),
		WithPauseFunc(paused.Load))
	d.Start(context.Background())
	defer d.Stop()

	time.Sleep(50 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Fatalf("ran %d entries while paused", n)
	}

	paused.Store(false)
	d.Wake()
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
}

func TestDispatcherStopCancelsWorkers(t *testing.T) {
	q := newQueue(t, 1, "A")
	entered := make(chan struct{})
	var cancelled atomic.Bool

	handler := func(ctx context.Context, entry *models.QueueEntry) {
		close(entered)
		<-ctx.Done()
		cancelled.Store(true)
	}

	d := NewDispatcher(q, handler, 1, time.Hour, WithLogger(logger.NewNopLogger()))
	d.Start(context.Background())

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("entry was not dispatched")
	}

	d.Stop()
	if !cancelled.Load() {
		t.Error("Stop returned before the worker saw cancellation")
	}
	if d.Active() != 0 {
		t.Errorf("Active() = %d after Stop", d.Active())
	}

	// Stop is idempotent
	d.Stop()
}
