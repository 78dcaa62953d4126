// Package roster imports patient rosters from CSV and XLSX exports into the
// clinical record store. Practices typically hand over a spreadsheet from
// their previous system when onboarding.
package roster

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
)

// Result summarizes one roster import.
type Result struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// columnAliases maps spreadsheet header spellings to canonical patient fields.
var columnAliases = map[string]string{
	"first_name":    "first_name",
	"firstname":     "first_name",
	"first":         "first_name",
	"last_name":     "last_name",
	"lastname":      "last_name",
	"last":          "last_name",
	"date_of_birth": "date_of_birth",
	"dob":           "date_of_birth",
	"birth_date":    "date_of_birth",
	"mrn":           "mrn",
	"chart_number":  "mrn",
}

// Importer loads patient rows into the record store.
type Importer struct {
	records records.Store
}

// NewImporter creates a roster importer over the given record store.
func NewImporter(rs records.Store) *Importer {
	return &Importer{records: rs}
}

// ImportFile imports patients from path into orgID's chart space. The format
// is chosen by file extension (.csv or .xlsx).
func (im *Importer) ImportFile(ctx context.Context, path, orgID string) (*Result, error) {
	if orgID == "" {
		return nil, eris.New("roster: org ID is required")
	}

	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, eris.Errorf("roster: unsupported file format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("roster: file has no rows")
	}

	columns, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for i, row := range rows[1:] {
		patient := rowToPatient(row, columns)
		if patient["first_name"] == "" || patient["last_name"] == "" {
			result.Skipped++
			result.Errors = append(result.Errors, eris.Errorf("row %d: first and last name are required", i+2).Error())
			continue
		}
		patient["org_id"] = orgID

		if _, err := im.records.Insert(ctx, model.TablePatients, patient); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, eris.Wrapf(err, "row %d", i+2).Error())
			continue
		}
		result.Imported++
	}

	zap.L().Info("roster import complete",
		zap.String("file", path),
		zap.String("org_id", orgID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// mapHeader resolves each header cell to a canonical field. Unknown columns
// are ignored; missing name columns are an error.
func mapHeader(header []string) (map[int]string, error) {
	columns := make(map[int]string)
	for i, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		key = strings.ReplaceAll(key, " ", "_")
		if field, ok := columnAliases[key]; ok {
			columns[i] = field
		}
	}

	seen := make(map[string]bool)
	for _, field := range columns {
		seen[field] = true
	}
	if !seen["first_name"] || !seen["last_name"] {
		return nil, eris.New("roster: header must include first and last name columns")
	}
	return columns, nil
}

func rowToPatient(row []string, columns map[int]string) map[string]any {
	patient := make(map[string]any)
	for i, field := range columns {
		if i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			patient[field] = v
		}
	}
	// Normalize missing optional fields so lookups see consistent shapes.
	for _, field := range []string{"first_name", "last_name"} {
		if _, ok := patient[field]; !ok {
			patient[field] = ""
		}
	}
	return patient
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "roster: open csv")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "roster: read csv row")
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "roster: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("roster: workbook has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
