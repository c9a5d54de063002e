package progress

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

const storageTimeout = 3 * time.Second

// ChangeClass groups mutations that share a remote flush delay.
type ChangeClass string

const (
	ChangeCompletion ChangeClass = "completion"
	ChangeInput      ChangeClass = "input"
)

// Scheduler is notified after a mutation that should reach the remote store.
type Scheduler interface {
	Schedule(courseID string, class ChangeClass)
	// Cancel drops every pending flush of a course.
	Cancel(courseID string)
}

// CacheConfig holds dependencies for a Cache.
type CacheConfig struct {
	Storage   Storage          // persisted subset; nil disables persistence
	Scheduler Scheduler        // remote flush scheduling; may be set later
	Now       func() time.Time // defaults to time.Now
}

// Cache is the in-session source of truth for course progress. Each client
// session owns one Cache.
type Cache struct {
	storage Storage
	now     func() time.Time

	mu        sync.RWMutex
	records   map[string]*entry
	scheduler Scheduler
	version   uint64

	saveMu       sync.Mutex
	savedVersion uint64
}

type entry struct {
	rec Record
	// Epoch millis of the last local mutation of each field. Zero means
	// the field was never changed locally.
	completedAt int64
	moduleAt    int64
	tabAt       int64
	inputsAt    map[string]int64
}

// NewCache creates an empty cache. Call Load to restore persisted progress.
func NewCache(cfg CacheConfig) *Cache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		storage:   cfg.Storage,
		scheduler: cfg.Scheduler,
		now:       now,
		records:   make(map[string]*entry),
	}
}

// SetScheduler replaces the remote flush scheduler.
func (c *Cache) SetScheduler(s Scheduler) {
	c.mu.Lock()
	c.scheduler = s
	c.mu.Unlock()
}

// Load restores the persisted subset (completed modules and user inputs).
// Unreadable or invalid storage is logged and ignored.
func (c *Cache) Load(ctx context.Context) {
	if c.storage == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	state, err := c.storage.Load(ctx)
	if err != nil {
		slog.Warn("local progress unreadable, starting fresh", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for courseID, modules := range state.CompletedModules {
		c.entryLocked(courseID).rec.CompletedModules = NewModuleSet(modules...)
	}
	for courseID, inputs := range state.UserInputs {
		e := c.entryLocked(courseID)
		e.rec.UserInputs = maps.Clone(inputs)
		if e.rec.UserInputs == nil {
			e.rec.UserInputs = map[string]string{}
		}
	}
}

// SetActiveModule records the module being viewed. No bounds check.
func (c *Cache) SetActiveModule(courseID string, index int) {
	c.mutate(courseID, "", func(e *entry, now int64) {
		e.rec.ActiveModule = index
		e.moduleAt = now
	})
}

// SetActiveTab records the tab being viewed.
func (c *Cache) SetActiveTab(courseID string, tab Tab) {
	c.mutate(courseID, "", func(e *entry, now int64) {
		e.rec.ActiveTab = tab
		e.tabAt = now
	})
}

// ToggleModuleCompletion flips completion of a module and schedules a
// remote flush.
func (c *Cache) ToggleModuleCompletion(courseID string, index int) {
	if index < 0 {
		return
	}
	c.mutate(courseID, ChangeCompletion, func(e *entry, now int64) {
		e.rec.CompletedModules.Toggle(index)
		e.completedAt = now
	})
}

// SetUserInput stores free text for a content block and schedules a remote
// flush.
func (c *Cache) SetUserInput(courseID, blockID, text string) {
	c.mutate(courseID, ChangeInput, func(e *entry, now int64) {
		e.rec.UserInputs[blockID] = text
		e.inputsAt[blockID] = now
	})
}

// ClearCourseProgress drops the local record and any scheduled remote
// flush for it. The remote copy is untouched.
func (c *Cache) ClearCourseProgress(courseID string) {
	c.mu.Lock()
	delete(c.records, courseID)
	scheduler := c.scheduler
	state, v := c.persistedLocked()
	c.mu.Unlock()

	c.persist(state, v)

	if scheduler != nil {
		scheduler.Cancel(courseID)
	}
}

// CompletedModules returns a copy of the completed set.
func (c *Cache) CompletedModules(courseID string) ModuleSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.records[courseID]; ok {
		return e.rec.CompletedModules.Clone()
	}
	return ModuleSet{}
}

func (c *Cache) ActiveModule(courseID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.records[courseID]; ok {
		return e.rec.ActiveModule
	}
	return 0
}

func (c *Cache) ActiveTab(courseID string) Tab {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.records[courseID]; ok {
		return e.rec.ActiveTab
	}
	return TabLesson
}

func (c *Cache) UserInput(courseID, blockID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.records[courseID]; ok {
		return e.rec.UserInputs[blockID]
	}
	return ""
}

// ProgressPercentage returns the rounded share of completed modules.
func (c *Cache) ProgressPercentage(courseID string, totalModules int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.records[courseID]
	if !ok {
		return 0
	}
	return Percentage(e.rec.CompletedModules.Len(), totalModules)
}

// Courses returns the IDs of every course with a local record, sorted.
func (c *Cache) Courses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := slices.Collect(maps.Keys(c.records))
	slices.Sort(ids)
	return ids
}

// Snapshot returns a deep copy of a course record.
func (c *Cache) Snapshot(courseID string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.records[courseID]
	if !ok {
		return Record{}, false
	}
	return e.rec.Clone(), true
}

// MarkSynced stamps a successful remote write.
func (c *Cache) MarkSynced(courseID string, millis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.records[courseID]; ok && millis > e.rec.LastUpdated {
		e.rec.LastUpdated = millis
	}
}

// Apply reconciles a remote document into the local record field by field.
// Only fields present remotely are considered; a missing document changes
// nothing. A remote field is skipped when the same local field (for user
// inputs, the same block) was changed after remote.LastUpdated, so unflushed
// local changes are not lost while untouched fields still take the remote
// value. User inputs are merged per block. It reports whether any remote
// field was applied.
func (c *Cache) Apply(courseID string, remote Remote) bool {
	if !remote.Exists {
		return false
	}
	at := remote.LastUpdated

	c.mu.Lock()
	_, existed := c.records[courseID]
	e := c.entryLocked(courseID)
	r := &e.rec
	changed := false
	var kept []string

	if remote.CompletedModules != nil {
		if e.completedAt > at {
			kept = append(kept, "completedModules")
		} else {
			r.CompletedModules = remote.CompletedModules.Clone()
			changed = true
		}
	}
	if remote.ActiveModule != nil {
		if e.moduleAt > at {
			kept = append(kept, "activeModule")
		} else {
			r.ActiveModule = *remote.ActiveModule
			changed = true
		}
	}
	if remote.ActiveTab != nil {
		if e.tabAt > at {
			kept = append(kept, "activeTab")
		} else {
			r.ActiveTab = *remote.ActiveTab
			changed = true
		}
	}
	for blockID, text := range remote.UserInputs {
		if e.inputsAt[blockID] > at {
			kept = append(kept, "userInputs."+blockID)
			continue
		}
		r.UserInputs[blockID] = text
		changed = true
	}

	if !changed {
		if !existed {
			delete(c.records, courseID)
		}
		c.mu.Unlock()
		slog.Debug("remote progress older than local changes, keeping local",
			"course_id", courseID,
			"remote_updated", at,
		)
		return false
	}
	if at > r.LastUpdated {
		r.LastUpdated = at
	}
	state, v := c.persistedLocked()
	c.mu.Unlock()

	if len(kept) > 0 {
		slog.Debug("kept newer local fields over remote",
			"course_id", courseID,
			"fields", kept,
			"remote_updated", at,
		)
	}
	c.persist(state, v)
	return true
}

func (c *Cache) mutate(courseID string, class ChangeClass, fn func(e *entry, now int64)) {
	c.mu.Lock()
	e := c.entryLocked(courseID)
	fn(e, c.now().UnixMilli())
	scheduler := c.scheduler
	state, v := c.persistedLocked()
	c.mu.Unlock()

	c.persist(state, v)

	if class != "" && scheduler != nil {
		scheduler.Schedule(courseID, class)
	}
}

func (c *Cache) entryLocked(courseID string) *entry {
	e, ok := c.records[courseID]
	if !ok {
		e = &entry{rec: NewRecord(), inputsAt: make(map[string]int64)}
		c.records[courseID] = e
	}
	return e
}

// persistedLocked snapshots the persisted subset and bumps the version.
func (c *Cache) persistedLocked() (PersistedState, uint64) {
	c.version++
	state := PersistedState{
		CompletedModules: make(map[string][]int, len(c.records)),
		UserInputs:       make(map[string]map[string]string, len(c.records)),
	}
	for id, e := range c.records {
		state.CompletedModules[id] = e.rec.CompletedModules.Sorted()
		if e.rec.UserInputs != nil {
			state.UserInputs[id] = maps.Clone(e.rec.UserInputs)
		}
	}
	return state, c.version
}

// persist writes state unless a newer version has already been saved.
func (c *Cache) persist(state PersistedState, version uint64) {
	if c.storage == nil {
		return
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	if version <= c.savedVersion {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	if err := c.storage.Save(ctx, state); err != nil {
		slog.Warn("persisting local progress failed", "error", err)
		return
	}
	c.savedVersion = version
}
