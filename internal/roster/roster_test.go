package roster

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportFile_CSV(t *testing.T) {
	rs := records.NewMemory()
	path := writeCSV(t, "First Name,Last Name,DOB,MRN\nJohn,Doe,1980-01-01,MRN-1001\nJane,Smith,1992-06-15,MRN-1002\n")

	result, err := NewImporter(rs).ImportFile(context.Background(), path, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Zero(t, result.Skipped)

	patients, err := rs.Find(context.Background(), model.TablePatients, nil, 10)
	require.NoError(t, err)
	require.Len(t, patients, 2)

	byMRN := make(map[string]map[string]any)
	for _, p := range patients {
		byMRN[p["mrn"].(string)] = p
	}
	john := byMRN["MRN-1001"]
	assert.Equal(t, "John", john["first_name"])
	assert.Equal(t, "Doe", john["last_name"])
	assert.Equal(t, "1980-01-01", john["date_of_birth"])
	assert.Equal(t, "org-1", john["org_id"])
}

func TestImportFile_SkipsIncompleteRows(t *testing.T) {
	rs := records.NewMemory()
	path := writeCSV(t, "first_name,last_name\nJohn,Doe\n,Smith\n")

	result, err := NewImporter(rs).ImportFile(context.Background(), path, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "row 3")
}

func TestImportFile_HeaderAliases(t *testing.T) {
	rs := records.NewMemory()
	path := writeCSV(t, "firstname,lastname,birth_date,chart_number,insurance\nJohn,Doe,1980-01-01,C-42,Acme Health\n")

	result, err := NewImporter(rs).ImportFile(context.Background(), path, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	patients, err := rs.Find(context.Background(), model.TablePatients, nil, 10)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "C-42", patients[0]["mrn"])
	// Unknown columns are dropped, not imported.
	assert.NotContains(t, patients[0], "insurance")
}

func TestImportFile_MissingNameColumns(t *testing.T) {
	rs := records.NewMemory()
	path := writeCSV(t, "mrn,dob\nMRN-1,1980-01-01\n")

	_, err := NewImporter(rs).ImportFile(context.Background(), path, "org-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first and last name")
}

func TestImportFile_XLSX(t *testing.T) {
	rs := records.NewMemory()

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Patients")
	require.NoError(t, err)
	for _, cells := range [][]string{
		{"First Name", "Last Name", "MRN"},
		{"John", "Doe", "MRN-1001"},
	} {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().Value = c
		}
	}
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	require.NoError(t, file.Save(path))

	result, err := NewImporter(rs).ImportFile(context.Background(), path, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
}

func TestImportFile_UnsupportedFormat(t *testing.T) {
	rs := records.NewMemory()
	path := filepath.Join(t.TempDir(), "roster.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := NewImporter(rs).ImportFile(context.Background(), path, "org-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")
}

func TestImportFile_RequiresOrg(t *testing.T) {
	rs := records.NewMemory()
	_, err := NewImporter(rs).ImportFile(context.Background(), "roster.csv", "")
	require.Error(t, err)
}
