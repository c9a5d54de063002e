package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Finding-Finance-Association/website-sub000/internal/catalog"
)

func setupTestCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	basics := filepath.Join(dir, "finance", "basics")
	if err := os.MkdirAll(basics, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(basics, "budgeting.yaml"), `
id: budgeting-101
title: Budgeting 101
modules:
  - title: Why budget
  - title: The 50/30/20 rule
    quiz: true
  - title: Tracking spending
  - title: Review
    quiz: true
`)
	writeFile(t, filepath.Join(dir, "investing.yml"), `
id: investing-101
title: Investing 101
modules:
  - title: Compound interest
`)
	writeFile(t, filepath.Join(dir, "README.md"), "# Courses\n")
	writeFile(t, filepath.Join(dir, "notes.yaml"), "owner: content-team\n")
	writeFile(t, filepath.Join(dir, "broken.yaml"), "id: [unterminated\n")

	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_LoadCourses(t *testing.T) {
	loader, err := catalog.NewLoader(setupTestCatalog(t))
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	courses := loader.Courses()
	if len(courses) != 2 {
		t.Fatalf("Courses() returned %d, want 2", len(courses))
	}
	if courses[0].ID != "budgeting-101" || courses[1].ID != "investing-101" {
		t.Errorf("Courses() order = %s, %s", courses[0].ID, courses[1].ID)
	}
}

func TestLoader_TotalModules(t *testing.T) {
	loader, err := catalog.NewLoader(setupTestCatalog(t))
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	tests := []struct {
		id   string
		want int
	}{
		{"budgeting-101", 4},
		{"investing-101", 1},
		{"unknown", 0},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := loader.TotalModules(tt.id); got != tt.want {
				t.Errorf("TotalModules(%q) = %d, want %d", tt.id, got, tt.want)
			}
		})
	}
}

func TestLoader_HasQuiz(t *testing.T) {
	loader, err := catalog.NewLoader(setupTestCatalog(t))
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	tests := []struct {
		name   string
		id     string
		module int
		want   bool
	}{
		{"quiz module", "budgeting-101", 1, true},
		{"lesson only", "budgeting-101", 0, false},
		{"out of range", "budgeting-101", 4, false},
		{"negative", "budgeting-101", -1, false},
		{"unknown course", "unknown", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loader.HasQuiz(tt.id, tt.module); got != tt.want {
				t.Errorf("HasQuiz(%q, %d) = %v, want %v", tt.id, tt.module, got, tt.want)
			}
		})
	}
}

func TestLoader_MissingDirectory(t *testing.T) {
	loader, err := catalog.NewLoader(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	if len(loader.Courses()) != 0 {
		t.Error("missing directory should yield an empty catalog")
	}
}

func TestNewStatic(t *testing.T) {
	loader := catalog.NewStatic(catalog.Course{
		ID:      "c1",
		Title:   "Course",
		Modules: []catalog.Module{{Title: "a"}, {Title: "b", Quiz: true}},
	})

	c, ok := loader.Course("c1")
	if !ok || c.Title != "Course" {
		t.Fatalf("Course(c1) = %+v, %v", c, ok)
	}
	if !loader.HasQuiz("c1", 1) {
		t.Error("HasQuiz(c1, 1) = false, want true")
	}
}
