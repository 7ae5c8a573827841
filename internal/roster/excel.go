package roster

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

var exportHeaders = []string{"candidate_no", "full_name", "email", "phone", "target_band", "is_active", "created_at"}

// ExportXLSX writes every student matching f to a single-sheet workbook.
// Paging in f is ignored.
func (s *Service) ExportXLSX(ctx context.Context, f Filter) ([]byte, error) {
	var all []Student
	f.Limit, f.Offset = 200, 0
	for {
		page, err := s.List(ctx, f)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if len(page.Items) < f.Limit {
			break
		}
		f.Offset += f.Limit
	}
	return writeWorkbook(all)
}

func writeWorkbook(items []Student) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetName(sheet, "Students"); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	sheet = "Students"
	for i, h := range exportHeaders {
		c, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, c, h)
	}
	for i, it := range items {
		row := i + 2
		var band any
		if it.TargetBand != nil {
			band = *it.TargetBand
		}
		values := []any{
			it.CandidateNo,
			it.FullName,
			it.Email,
			it.Phone,
			band,
			it.IsActive,
			it.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			c, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, c, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "G", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
