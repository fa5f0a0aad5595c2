// Package worker runs claimed queue entries on a bounded set of goroutines.
package worker

import (
	"context"
	"sync"
	"time"

	"igmutual/pkg/logger"
	"igmutual/pkg/models"
)

// Source hands out the next runnable entry, or nil when none is ready
type Source interface {
	NextReady(ctx context.Context) (*models.QueueEntry, error)
}

// Handler processes one claimed entry. It owns marking the entry finished.
type Handler func(ctx context.Context, entry *models.QueueEntry)

// Dispatcher claims entries from a Source and runs them on at most
// numWorkers goroutines. It polls on an interval and whenever Wake is called.
type Dispatcher struct {
	numWorkers int
	interval   time.Duration
	source     Source
	handler    Handler
	paused     func() bool
	logger     logger.Logger

	wake chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithPauseFunc stops claiming while paused returns true. Running
// entries are not affected.
func WithPauseFunc(paused func() bool) Option {
	return func(d *Dispatcher) { d.paused = paused }
}

// NewDispatcher creates a dispatcher
func NewDispatcher(source Source, handler Handler, numWorkers int, interval time.Duration, opts ...Option) *Dispatcher {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	d := &Dispatcher{
		numWorkers: numWorkers,
		interval:   interval,
		source:     source,
		handler:    handler,
		paused:     func() bool { return false },
		logger:     logger.GetLogger(),
		wake:       make(chan struct{}, 1),
		sem:        make(chan struct{}, numWorkers),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithField("component", "dispatcher")
	return d
}

// Start launches the dispatch loop. Entries run with a context derived
// from ctx that is cancelled by Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	logger.LogComponentStart(d.logger, "dispatcher", map[string]interface{}{
		"num_workers": d.numWorkers,
		"interval":    d.interval.String(),
	})

	go d.loop(ctx)
	d.Wake()
}

// Wake asks the loop to look for work now
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stop cancels running entries and waits for every worker to return
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}

	d.logger.Info("Stopping dispatcher...")
	cancel()
	<-done
	d.wg.Wait()
	logger.LogComponentStop(d.logger, "dispatcher", "stopped")
}

// Active returns the number of entries currently running
func (d *Dispatcher) Active() int {
	return len(d.sem)
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
		d.dispatch(ctx)
	}
}

// dispatch claims entries until the workers are busy or nothing is ready
func (d *Dispatcher) dispatch(ctx context.Context) {
	for ctx.Err() == nil {
		if d.paused() {
			d.logger.Debug("Dispatch paused")
			return
		}

		select {
		case d.sem <- struct{}{}:
		default:
			return
		}

		entry, err := d.source.NextReady(ctx)
		if err != nil || entry == nil {
			<-d.sem
			if err != nil && ctx.Err() == nil {
				d.logger.WithError(err).Error("Failed to claim queue entry")
			}
			return
		}

		d.wg.Add(1)
		go d.worker(ctx, entry)
	}
}

func (d *Dispatcher) worker(ctx context.Context, entry *models.QueueEntry) {
	defer d.wg.Done()
	defer func() {
		<-d.sem
		d.Wake()
	}()

	start := time.Now()
	d.logger.DebugWithFields("Worker processing entry", map[string]interface{}{
		"check_id": entry.CheckID,
		"seq":      entry.Seq,
	})

	d.handler(ctx, entry)

	d.logger.DebugWithFields("Worker finished entry", map[string]interface{}{
		"check_id": entry.CheckID,
		"duration": time.Since(start),
	})
}
