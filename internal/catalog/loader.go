// Package catalog provides course metadata: module counts and which
// modules carry a quiz.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads and caches course metadata from the filesystem.
type Loader struct {
	rootDir string
	courses map[string]Course
	mu      sync.RWMutex
}

// NewLoader creates a loader and reads every course YAML file under rootDir.
// A missing rootDir yields an empty catalog.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		courses: make(map[string]Course),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	slog.Info("catalog loaded", "courses", len(l.courses))
	return l, nil
}

// NewStatic creates a loader over in-memory courses.
func NewStatic(courses ...Course) *Loader {
	l := &Loader{courses: make(map[string]Course, len(courses))}
	for _, c := range courses {
		l.courses[c.ID] = c
	}
	return l
}

// Course returns a course by ID.
func (l *Loader) Course(id string) (Course, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[id]
	return c, ok
}

// TotalModules returns the module count of a course, 0 if unknown.
func (l *Loader) TotalModules(id string) int {
	c, ok := l.Course(id)
	if !ok {
		return 0
	}
	return c.TotalModules()
}

// HasQuiz reports whether a module of a course has a quiz.
func (l *Loader) HasQuiz(id string, module int) bool {
	c, ok := l.Course(id)
	if !ok || module < 0 || module >= len(c.Modules) {
		return false
	}
	return c.Modules[module].Quiz
}

// Courses returns every loaded course ordered by ID.
func (l *Loader) Courses() []Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	slices.SortFunc(courses, func(a, b Course) int {
		return strings.Compare(a.ID, b.ID)
	})
	return courses
}

func (l *Loader) loadAll() error {
	if _, err := os.Stat(l.rootDir); os.IsNotExist(err) {
		slog.Warn("catalog directory not found", "path", l.rootDir)
		return nil
	}

	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadCourse(path)
		}
		return nil
	})
}

func (l *Loader) loadCourse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var course Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return nil
	}

	if course.ID == "" {
		return nil // Not a course file
	}
	if strings.Contains(course.ID, "/") {
		slog.Warn("skipping course with invalid id", "path", path, "id", course.ID)
		return nil
	}

	l.mu.Lock()
	if _, dup := l.courses[course.ID]; dup {
		slog.Warn("duplicate course id, keeping last", "id", course.ID, "path", path)
	}
	l.courses[course.ID] = course
	l.mu.Unlock()

	return nil
}
