package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"ieltsadmin/internal/validate"

	"github.com/xuri/excelize/v2"
)

var requiredColumns = []string{"full_name", "email", "password"}

var headerAliases = map[string]string{
	"name":             "full_name",
	"fullname":         "full_name",
	"candidate_number": "candidate_no",
	"band":             "target_band",
	"phone_number":     "phone",
}

type sheet struct {
	index map[string]int
	rows  []sheetRow
	bad   []ImportRowError
}

type sheetRow struct {
	no    int
	cells []string
}

// Import reads a roster file and creates one student per row. Rows fail on
// their own; the report lists every failure with its 1-based line number.
func (s *Service) Import(ctx context.Context, actorID int64, filename string, r io.Reader) (*ImportReport, error) {
	sh, err := readSheet(filename, r)
	if err != nil {
		return nil, err
	}
	report := importRows(ctx, sh, func(ctx context.Context, in StudentInput) (*Student, error) {
		st, err := s.create(ctx, in)
		if err != nil {
			return nil, err
		}
		s.welcome(ctx, st)
		return st, nil
	})
	s.audit.Record(ctx, actorID, "students_imported", "student_import", strings.ToLower(filepath.Ext(filename)), map[string]any{
		"filename":     filepath.Base(filename),
		"total_rows":   report.TotalRows,
		"success_rows": report.SuccessRows,
		"failed_rows":  report.FailedRows,
	})
	return report, nil
}

func readSheet(filename string, r io.Reader) (*sheet, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return readCSV(r)
	case ".xlsx":
		return readXLSX(r)
	default:
		return nil, ErrUnsupportedFile
	}
}

func readCSV(r io.Reader) (*sheet, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrInvalidInput, err)
	}
	sh, err := newSheet(header)
	if err != nil {
		return nil, err
	}
	rowNo := 1
	for {
		rowNo++
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			sh.bad = append(sh.bad, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}
		sh.rows = append(sh.rows, sheetRow{no: rowNo, cells: rec})
	}
	return sh, nil
}

func readXLSX(r io.Reader) (*sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open excel: %v", ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel file has no sheets", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	sh, err := newSheet(rows[0])
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(rows); i++ {
		sh.rows = append(sh.rows, sheetRow{no: i + 1, cells: rows[i]})
	}
	return sh, nil
}

func newSheet(header []string) (*sheet, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if alias, ok := headerAliases[n]; ok {
			n = alias
		}
		if n != "" {
			if _, dup := index[n]; !dup {
				index[n] = i
			}
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return &sheet{index: index}, nil
}

func importRows(ctx context.Context, sh *sheet, create func(context.Context, StudentInput) (*Student, error)) *ImportReport {
	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	for _, bad := range sh.bad {
		report.TotalRows++
		report.FailedRows++
		report.Errors = append(report.Errors, bad)
	}

	seen := make(map[string]int)
	for _, row := range sh.rows {
		if isRowEmpty(row.cells) {
			continue
		}
		report.TotalRows++

		in, err := rowInput(sh.index, row.cells)
		if err != nil {
			report.fail(row.no, in.Email, err, nil)
			continue
		}
		in = normalizeInput(in)
		if err := validate.Struct(in); err != nil {
			fields, _ := validate.AsFieldErrors(err)
			report.fail(row.no, in.Email, err, fields)
			continue
		}
		if first, ok := seen[in.Email]; ok {
			report.fail(row.no, in.Email, fmt.Errorf("email repeats row %d", first), nil)
			continue
		}
		seen[in.Email] = row.no

		if _, err := create(ctx, in); err != nil {
			report.fail(row.no, in.Email, err, nil)
			continue
		}
		report.SuccessRows++
	}
	return report
}

func rowInput(index map[string]int, rec []string) (StudentInput, error) {
	in := StudentInput{
		FullName:    cell(rec, index, "full_name"),
		Email:       cell(rec, index, "email"),
		CandidateNo: cell(rec, index, "candidate_no"),
		Phone:       cell(rec, index, "phone"),
		Password:    cell(rec, index, "password"),
	}
	if raw := cell(rec, index, "target_band"); raw != "" {
		v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil {
			return in, fmt.Errorf("target_band %q is not a number", raw)
		}
		in.TargetBand = &v
	}
	return in, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	return h
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isRowEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
