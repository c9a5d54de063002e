package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Finding-Finance-Association/website-sub000/internal/identity"
	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
)

// DefaultFlushTimeout bounds transition and teardown work.
const DefaultFlushTimeout = 5 * time.Second

const bulkConcurrency = 4

// ErrFlushTimeout is returned by Close when the teardown flush does not
// finish in time.
var ErrFlushTimeout = errors.New("teardown flush timed out")

// Config holds dependencies for an Orchestrator.
type Config struct {
	Cache        *progress.Cache
	Gateway      *progress.Gateway
	Identity     identity.Provider
	Scheduler    *Scheduler
	FlushTimeout time.Duration
	Metrics      *Metrics
	Events       EventLogger
}

// Orchestrator pulls remote progress when a user signs in and flushes the
// local cache when the user signs out or the session ends.
//
// A remote record is applied only when its lastUpdated is not older than
// the last local mutation of that course; otherwise the local change is
// kept and reaches the remote store with the next write.
type Orchestrator struct {
	cache     *progress.Cache
	gateway   *progress.Gateway
	identity  identity.Provider
	scheduler *Scheduler
	timeout   time.Duration
	metrics   *Metrics
	events    EventLogger

	mu          sync.Mutex
	base        context.Context
	unsubscribe func()
	closed      bool
}

// NewOrchestrator creates an Orchestrator. Call Start to begin following
// identity changes.
func NewOrchestrator(cfg Config) *Orchestrator {
	timeout := cfg.FlushTimeout
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	return &Orchestrator{
		cache:     cfg.Cache,
		gateway:   cfg.Gateway,
		identity:  cfg.Identity,
		scheduler: cfg.Scheduler,
		timeout:   timeout,
		metrics:   cfg.Metrics,
		events:    events,
		base:      context.Background(),
	}
}

// Start subscribes to identity changes and, if a user is already signed
// in, pulls their progress.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.closed || o.unsubscribe != nil {
		o.mu.Unlock()
		return
	}
	o.base = context.WithoutCancel(ctx)
	o.unsubscribe = o.identity.Subscribe(o.onChange)
	o.mu.Unlock()

	if state := o.identity.Current(); state.LoggedIn() {
		pctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		_ = o.Pull(pctx, state.UserID)
	}
}

func (o *Orchestrator) onChange(prev, next identity.State) {
	o.mu.Lock()
	base := o.base
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, o.timeout)
	defer cancel()

	if prev.LoggedIn() {
		slog.Info("identity left, flushing progress", "user_id", prev.UserID)
		o.scheduler.CancelAll()
		_ = o.Flush(ctx, prev.UserID)
	}
	if next.LoggedIn() {
		slog.Info("identity known, pulling progress", "user_id", next.UserID)
		_ = o.Pull(ctx, next.UserID)
	}
}

// Pull reads the remote record of every locally known course plus any
// extra courseIDs and reconciles them into the cache. Courses missing
// remotely are left untouched. Failures are logged and joined into the
// returned error; they never stop the other reads.
func (o *Orchestrator) Pull(ctx context.Context, userID string, courseIDs ...string) error {
	courses := o.cache.Courses()
	for _, id := range courseIDs {
		if !slices.Contains(courses, id) {
			courses = append(courses, id)
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for _, courseID := range courses {
		g.Go(func() error {
			start := time.Now()
			remote, err := o.gateway.Read(gctx, userID, courseID)
			o.metrics.observe(opPull, err, start)
			if err != nil {
				slog.Warn("remote progress read failed",
					"user_id", userID,
					"course_id", courseID,
					"error", err,
				)
				logEvent(o.events, Event{
					UserID:    userID,
					CourseID:  courseID,
					EventType: EventReadFailed,
					Op:        opPull,
					Error:     err.Error(),
				})
				mu.Lock()
				errs = append(errs, fmt.Errorf("course %s: %w", courseID, err))
				mu.Unlock()
				return nil
			}

			if cur := o.identity.Current(); cur.UserID != userID {
				// Identity changed while the read was in flight.
				return nil
			}
			if remote.Exists {
				o.scheduler.forget(userID, courseID)
				o.cache.Apply(courseID, remote)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Flush writes the full snapshot of every local course for userID.
func (o *Orchestrator) Flush(ctx context.Context, userID string) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for _, courseID := range o.cache.Courses() {
		g.Go(func() error {
			if err := o.scheduler.write(gctx, opFlush, userID, courseID, true); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("course %s: %w", courseID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Close stops following identity changes, drops armed timers and, when a
// user is signed in, flushes their progress. The flush is bounded by the
// flush timeout and by ctx; running out of time is logged as a warning and
// reported as ErrFlushTimeout.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	unsubscribe := o.unsubscribe
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	o.scheduler.CancelAll()

	state := o.identity.Current()
	if !state.LoggedIn() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- o.Flush(ctx, state.UserID)
	}()

	select {
	case err := <-done:
		if err == nil || ctx.Err() == nil {
			return err
		}
	case <-ctx.Done():
	}

	slog.Warn("teardown flush did not finish in time",
		"user_id", state.UserID,
		"timeout", o.timeout,
	)
	logEvent(o.events, Event{
		UserID:    state.UserID,
		EventType: EventTeardownTimeout,
		Op:        opFlush,
		Error:     ctx.Err().Error(),
	})
	return fmt.Errorf("%w: %v", ErrFlushTimeout, ctx.Err())
}
