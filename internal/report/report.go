// Package report exports a user's stored course progress.
package report

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Finding-Finance-Association/website-sub000/internal/catalog"
	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
)

const sheetName = "Progress"

// Catalog looks up course metadata.
type Catalog interface {
	Course(id string) (catalog.Course, bool)
}

// Row is the progress of one course.
type Row struct {
	CourseID    string     `json:"course_id"`
	Title       string     `json:"title"`
	Completed   int        `json:"completed"`
	Total       int        `json:"total"`
	Percentage  int        `json:"percentage"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// Service builds progress reports from the remote store.
type Service struct {
	gateway *progress.Gateway
	catalog Catalog
}

func NewService(gateway *progress.Gateway, cat Catalog) *Service {
	return &Service{gateway: gateway, catalog: cat}
}

// Rows returns one row per stored course of the user, ordered by course ID.
// Courses missing from the catalog keep their ID as title and a total of 0.
func (s *Service) Rows(ctx context.Context, userID string) ([]Row, error) {
	all, err := s.gateway.ReadAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(all))
	for courseID, remote := range all {
		row := Row{CourseID: courseID, Title: courseID}
		if c, ok := s.catalog.Course(courseID); ok {
			row.Title = c.Title
			row.Total = c.TotalModules()
		}
		rec := remote.Record()
		row.Completed = rec.CompletedModules.Len()
		row.Percentage = progress.Percentage(row.Completed, row.Total)
		if rec.LastUpdated > 0 {
			ts := time.UnixMilli(rec.LastUpdated).UTC()
			row.LastUpdated = &ts
		}
		rows = append(rows, row)
	}

	slices.SortFunc(rows, func(a, b Row) int {
		return strings.Compare(a.CourseID, b.CourseID)
	})
	return rows, nil
}

// WriteXLSX writes rows as a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := []any{"Course", "Title", "Completed", "Total", "Percent", "Last updated"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		updated := ""
		if r.LastUpdated != nil {
			updated = r.LastUpdated.Format(time.RFC3339)
		}
		values := []any{r.CourseID, r.Title, r.Completed, r.Total, r.Percentage, updated}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheetName, "B", "B", 32); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
