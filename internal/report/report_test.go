package report_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Finding-Finance-Association/website-sub000/internal/catalog"
	"github.com/Finding-Finance-Association/website-sub000/internal/docstore"
	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
	"github.com/Finding-Finance-Association/website-sub000/internal/report"
)

var updated = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) *report.Service {
	t.Helper()
	gw := progress.NewGateway(docstore.NewMemoryStore())
	cat := catalog.NewStatic(catalog.Course{
		ID:      "budgeting-101",
		Title:   "Budgeting 101",
		Modules: []catalog.Module{{}, {}, {}, {}},
	})

	writes := map[string]progress.Record{
		"budgeting-101": {
			CompletedModules: progress.NewModuleSet(0, 1, 3),
			UserInputs:       map[string]string{},
			LastUpdated:      updated.UnixMilli(),
		},
		"retired-course": {
			CompletedModules: progress.NewModuleSet(0),
			UserInputs:       map[string]string{},
		},
	}
	for id, rec := range writes {
		if err := gw.Write(t.Context(), "u1", id, rec); err != nil {
			t.Fatal(err)
		}
	}
	return report.NewService(gw, cat)
}

func TestService_Rows(t *testing.T) {
	rows, err := newService(t).Rows(t.Context(), "u1")
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	b := rows[0]
	if b.CourseID != "budgeting-101" || b.Title != "Budgeting 101" {
		t.Errorf("row 0 = %+v", b)
	}
	if b.Completed != 3 || b.Total != 4 || b.Percentage != 75 {
		t.Errorf("row 0 counts = %d/%d %d%%, want 3/4 75%%", b.Completed, b.Total, b.Percentage)
	}
	if b.LastUpdated == nil || !b.LastUpdated.Equal(updated) {
		t.Errorf("row 0 LastUpdated = %v, want %v", b.LastUpdated, updated)
	}

	r := rows[1]
	if r.Title != "retired-course" || r.Total != 0 || r.Percentage != 0 || r.LastUpdated != nil {
		t.Errorf("uncatalogued row = %+v", r)
	}
}

func TestService_RowsUnknownUser(t *testing.T) {
	rows, err := newService(t).Rows(t.Context(), "nobody")
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(rows) = %d, want 0", len(rows))
	}
}

func TestWriteXLSX(t *testing.T) {
	rows, err := newService(t).Rows(t.Context(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, rows); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	got, err := f.GetRows("Progress")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("sheet has %d rows, want 3", len(got))
	}
	if got[0][0] != "Course" || got[1][0] != "budgeting-101" || got[1][4] != "75" {
		t.Errorf("sheet rows = %v", got)
	}
}

func TestHandlers(t *testing.T) {
	mux := http.NewServeMux()
	newService(t).Register(mux)

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantContent string
	}{
		{"json", "/api/users/u1/progress", http.StatusOK, "application/json"},
		{"xlsx", "/api/users/u1/progress.xlsx", http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != tt.wantContent {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantContent)
			}
		})
	}
}

func TestHandleJSON_Body(t *testing.T) {
	mux := http.NewServeMux()
	newService(t).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/progress", nil))

	var body struct {
		UserID  string       `json:"user_id"`
		Courses []report.Row `json:"courses"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != "u1" || len(body.Courses) != 2 {
		t.Errorf("body = %+v", body)
	}
}
