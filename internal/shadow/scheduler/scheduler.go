// Package scheduler runs the shadow's background timers on top of
// go-co-op/gocron, the same scheduling library the teacher's own
// internal/taskmanager uses for its recurring maintenance jobs.
//
// Two distinct shapes are needed here: fixed-interval recurring jobs
// (periodic storage flush, periodic time-sync) in the taskmanager
// style, and a self-rescheduling one-time job that always fires at the
// next expected-value expiry instead of polling on a tick (spec §4.2).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/expectedcache"
)

// Scheduler wraps one gocron.Scheduler for all of a controller's
// background jobs.
type Scheduler struct {
	gc gocron.Scheduler
}

// New creates and starts a gocron scheduler.
func New() (*Scheduler, error) {
	gc, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{gc: gc}
	s.gc.Start()
	return s, nil
}

// Shutdown stops the underlying gocron scheduler.
func (s *Scheduler) Shutdown() error {
	return s.gc.Shutdown()
}

// RegisterFlushWorker runs flush on a fixed interval, in the same
// shape as the teacher's RegisterUpdateDurationWorker.
func (s *Scheduler) RegisterFlushWorker(interval time.Duration, flush func(ctx context.Context) error) error {
	cclog.Infof("shadow scheduler: register storage flush every %s", interval)
	_, err := s.gc.NewJob(gocron.DurationJob(interval), gocron.NewTask(func() {
		start := time.Now()
		if err := flush(context.Background()); err != nil {
			cclog.Errorf("shadow scheduler: flush failed after %s: %v", time.Since(start), err)
			return
		}
		cclog.Infof("shadow scheduler: flush took %s", time.Since(start))
	}))
	return err
}

// RegisterTimeSyncWorker runs sync on a fixed interval but only while
// reachable reports true (spec §9 "only runs while reachability is
// Reachable").
func (s *Scheduler) RegisterTimeSyncWorker(interval time.Duration, reachable func() bool, sync func(ctx context.Context)) error {
	cclog.Infof("shadow scheduler: register time-sync every %s", interval)
	_, err := s.gc.NewJob(gocron.DurationJob(interval), gocron.NewTask(func() {
		if !reachable() {
			return
		}
		sync(context.Background())
	}))
	return err
}

// ExpectedValueSweeper schedules a one-time job at the earliest
// outstanding expected-value expiry for one cache, and reschedules
// itself at the new earliest deadline after every sweep, instead of
// polling on a fixed tick.
type ExpectedValueSweeper struct {
	gc        gocron.Scheduler
	cache     *expectedcache.Cache
	cached    expectedcache.Lookup
	onReports func([]shadow.AttributeReport)

	mu  sync.Mutex
	job gocron.Job
}

// NewExpectedValueSweeper binds a sweeper to one device's expected
// cache. cached resolves the authoritative (non-optimistic) value for
// a path; onReports receives any synthetic reports produced by a
// sweep.
func NewExpectedValueSweeper(s *Scheduler, cache *expectedcache.Cache, cached expectedcache.Lookup, onReports func([]shadow.AttributeReport)) *ExpectedValueSweeper {
	return &ExpectedValueSweeper{gc: s.gc, cache: cache, cached: cached, onReports: onReports}
}

// Kick schedules (or reschedules) the next sweep, if any expected
// value is currently outstanding. Call this after every Set.
func (w *ExpectedValueSweeper) Kick() error {
	deadline, ok := w.cache.NextDeadline()
	if !ok {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.job != nil {
		if err := w.gc.RemoveJob(w.job.ID()); err != nil {
			cclog.Warnf("shadow scheduler: could not cancel prior sweep job: %v", err)
		}
	}

	job, err := w.gc.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(deadline)),
		gocron.NewTask(w.fire),
	)
	if err != nil {
		return err
	}
	w.job = job
	return nil
}

func (w *ExpectedValueSweeper) fire() {
	reports := w.cache.Sweep(w.cached)
	if len(reports) > 0 && w.onReports != nil {
		w.onReports(reports)
	}
	if err := w.Kick(); err != nil {
		cclog.Warnf("shadow scheduler: could not reschedule sweep: %v", err)
	}
}
