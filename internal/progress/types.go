// Package progress holds per-course learning progress: the data model, the
// in-session cache with its persisted subset, and the gateway to the remote
// document store.
package progress

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
)

// Tab is the pane a learner is viewing inside a module.
type Tab string

const (
	TabLesson Tab = "lesson"
	TabQuiz   Tab = "quiz"
)

// ParseTab validates a tab name.
func ParseTab(s string) (Tab, error) {
	switch Tab(s) {
	case TabLesson, TabQuiz:
		return Tab(s), nil
	default:
		return "", fmt.Errorf("unknown tab %q", s)
	}
}

// ModuleSet is a set of completed module indices. It encodes as a sorted
// JSON array.
type ModuleSet map[int]struct{}

// NewModuleSet builds a set from indices, dropping negatives and duplicates.
func NewModuleSet(indices ...int) ModuleSet {
	s := make(ModuleSet, len(indices))
	for _, i := range indices {
		if i >= 0 {
			s[i] = struct{}{}
		}
	}
	return s
}

func (s ModuleSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

func (s ModuleSet) Len() int { return len(s) }

// Toggle flips membership of i and reports whether i is now a member.
func (s ModuleSet) Toggle(i int) bool {
	if s.Has(i) {
		delete(s, i)
		return false
	}
	s[i] = struct{}{}
	return true
}

// Sorted returns the members in ascending order, never nil.
func (s ModuleSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

func (s ModuleSet) Clone() ModuleSet {
	if s == nil {
		return ModuleSet{}
	}
	return maps.Clone(s)
}

func (s ModuleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *ModuleSet) UnmarshalJSON(data []byte) error {
	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return err
	}
	if indices == nil {
		*s = nil
		return nil
	}
	*s = NewModuleSet(indices...)
	return nil
}

// Record is the progress state of one course.
type Record struct {
	CompletedModules ModuleSet         `json:"completedModules"`
	ActiveModule     int               `json:"activeModule"`
	ActiveTab        Tab               `json:"activeTab"`
	UserInputs       map[string]string `json:"userInputs"`
	LastUpdated      int64             `json:"lastUpdated"` // epoch millis of last remote write or load
}

// NewRecord returns a record with default values.
func NewRecord() Record {
	return Record{
		CompletedModules: ModuleSet{},
		ActiveTab:        TabLesson,
		UserInputs:       map[string]string{},
	}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.CompletedModules = r.CompletedModules.Clone()
	out.UserInputs = maps.Clone(r.UserInputs)
	if out.UserInputs == nil {
		out.UserInputs = map[string]string{}
	}
	return out
}

// Percentage returns round(100 * completed / totalModules), clamped to
// [0, 100]. It is 0 when totalModules <= 0.
func Percentage(completed, totalModules int) int {
	if totalModules <= 0 || completed <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(completed) / float64(totalModules)))
	return min(p, 100)
}

// Remote is a progress document as read from the document store. Nil fields
// were absent from the stored document.
type Remote struct {
	Exists           bool
	CompletedModules ModuleSet
	ActiveModule     *int
	ActiveTab        *Tab
	UserInputs       map[string]string
	LastUpdated      int64
}

// Record fills absent fields with defaults.
func (r Remote) Record() Record {
	rec := NewRecord()
	if r.CompletedModules != nil {
		rec.CompletedModules = r.CompletedModules.Clone()
	}
	if r.ActiveModule != nil {
		rec.ActiveModule = *r.ActiveModule
	}
	if r.ActiveTab != nil {
		rec.ActiveTab = *r.ActiveTab
	}
	if r.UserInputs != nil {
		rec.UserInputs = maps.Clone(r.UserInputs)
	}
	rec.LastUpdated = r.LastUpdated
	return rec
}
