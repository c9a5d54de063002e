package report

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Finding-Finance-Association/website-sub000/internal/docstore"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Register adds the report routes to mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users/{userID}/progress", s.handleJSON)
	mux.HandleFunc("GET /api/users/{userID}/progress.xlsx", s.handleXLSX)
}

func (s *Service) handleJSON(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	rows, ok := s.rows(w, r, userID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user_id": userID,
		"courses": rows,
	})
}

func (s *Service) handleXLSX(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	rows, ok := s.rows(w, r, userID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="progress.xlsx"`)
	if err := WriteXLSX(w, rows); err != nil {
		slog.Error("progress export failed", "user_id", userID, "error", err)
	}
}

func (s *Service) rows(w http.ResponseWriter, r *http.Request, userID string) ([]Row, bool) {
	rows, err := s.Rows(r.Context(), userID)
	if err != nil {
		if errors.Is(err, docstore.ErrInvalidPath) {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return nil, false
		}
		slog.Error("reading progress for report failed", "user_id", userID, "error", err)
		http.Error(w, "progress unavailable", http.StatusInternalServerError)
		return nil, false
	}
	return rows, true
}
