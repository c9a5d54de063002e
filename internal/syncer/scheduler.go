// Package syncer moves course progress between a client's local cache and
// the remote document store.
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/Finding-Finance-Association/website-sub000/internal/debounce"
	"github.com/Finding-Finance-Association/website-sub000/internal/identity"
	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
)

// Default debounce delays per change class.
const (
	DefaultToggleDelay = time.Second
	DefaultInputDelay  = 2 * time.Second
)

const writeTimeout = 10 * time.Second

// SchedulerConfig holds dependencies for a Scheduler.
type SchedulerConfig struct {
	Cache       *progress.Cache
	Gateway     *progress.Gateway
	Identity    identity.Provider
	Clock       debounce.Clock // defaults to debounce.RealClock
	ToggleDelay time.Duration
	InputDelay  time.Duration
	Metrics     *Metrics
	Events      EventLogger
}

var _ progress.Scheduler = (*Scheduler)(nil)

// Scheduler debounces remote writes per (course, change class). When a
// delay elapses it writes the full current snapshot of the course for the
// signed-in user.
type Scheduler struct {
	cache    *progress.Cache
	gateway  *progress.Gateway
	identity identity.Provider
	clock    debounce.Clock
	debounce *debounce.Debouncer
	delays   map[progress.ChangeClass]time.Duration
	metrics  *Metrics
	events   EventLogger

	mu     sync.Mutex
	synced map[syncKey][blake2b.Size256]byte
}

type syncKey struct {
	userID   string
	courseID string
}

// NewScheduler creates a Scheduler. Zero delays fall back to the defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = debounce.RealClock{}
	}
	toggle := cfg.ToggleDelay
	if toggle <= 0 {
		toggle = DefaultToggleDelay
	}
	input := cfg.InputDelay
	if input <= 0 {
		input = DefaultInputDelay
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}

	return &Scheduler{
		cache:    cfg.Cache,
		gateway:  cfg.Gateway,
		identity: cfg.Identity,
		clock:    clock,
		debounce: debounce.New(clock),
		delays: map[progress.ChangeClass]time.Duration{
			progress.ChangeCompletion: toggle,
			progress.ChangeInput:      input,
		},
		metrics: cfg.Metrics,
		events:  events,
		synced:  make(map[syncKey][blake2b.Size256]byte),
	}
}

// Schedule arms (or re-arms) the debounced write for a course.
func (s *Scheduler) Schedule(courseID string, class progress.ChangeClass) {
	delay, ok := s.delays[class]
	if !ok {
		delay = s.delays[progress.ChangeCompletion]
	}
	s.debounce.Trigger(debounce.Key{ID: courseID, Class: string(class)}, delay, func() {
		s.fire(courseID)
	})
}

// Pending returns the number of armed debounce timers.
func (s *Scheduler) Pending() int {
	return s.debounce.Pending()
}

// Cancel drops the armed timers of one course without writing.
func (s *Scheduler) Cancel(courseID string) {
	s.debounce.CancelID(courseID)
}

// CancelAll drops every armed timer without writing.
func (s *Scheduler) CancelAll() {
	s.debounce.Stop()
}

func (s *Scheduler) fire(courseID string) {
	state := s.identity.Current()
	if !state.LoggedIn() {
		slog.Debug("signed out, skipping remote write", "course_id", courseID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_ = s.write(ctx, opWrite, state.UserID, courseID, false)
}

// write sends the current snapshot of a course. Unless force is set, a
// snapshot identical to the last successful write for the same user and
// course is skipped.
func (s *Scheduler) write(ctx context.Context, op, userID, courseID string, force bool) error {
	rec, ok := s.cache.Snapshot(courseID)
	if !ok {
		return nil
	}

	key := syncKey{userID: userID, courseID: courseID}
	sum := fingerprint(rec)
	if !force {
		s.mu.Lock()
		last, seen := s.synced[key]
		s.mu.Unlock()
		if seen && last == sum {
			s.metrics.skipped(op)
			slog.Debug("progress unchanged since last write", "user_id", userID, "course_id", courseID)
			return nil
		}
	}

	rec.LastUpdated = s.clock.Now().UnixMilli()

	start := time.Now()
	err := s.gateway.Write(ctx, userID, courseID, rec)
	s.metrics.observe(op, err, start)
	if err != nil {
		slog.Warn("remote progress write failed",
			"op", op,
			"user_id", userID,
			"course_id", courseID,
			"error", err,
		)
		logEvent(s.events, Event{
			UserID:    userID,
			CourseID:  courseID,
			EventType: EventWriteFailed,
			Op:        op,
			Error:     err.Error(),
		})
		return err
	}

	s.cache.MarkSynced(courseID, rec.LastUpdated)

	s.mu.Lock()
	s.synced[key] = sum
	s.mu.Unlock()
	return nil
}

// forget drops the remembered fingerprint once the remote document has been
// seen again, since another writer may have changed it.
func (s *Scheduler) forget(userID, courseID string) {
	s.mu.Lock()
	delete(s.synced, syncKey{userID: userID, courseID: courseID})
	s.mu.Unlock()
}

// fingerprint hashes the record content, excluding LastUpdated.
func fingerprint(rec progress.Record) [blake2b.Size256]byte {
	// Marshalling these types cannot fail and map keys are sorted.
	data, _ := json.Marshal(struct {
		C []int             `json:"c"`
		M int               `json:"m"`
		T progress.Tab      `json:"t"`
		U map[string]string `json:"u"`
	}{rec.CompletedModules.Sorted(), rec.ActiveModule, rec.ActiveTab, rec.UserInputs})
	return blake2b.Sum256(data)
}
