package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	err := f.Save(path)
	require.NoError(t, err)
	return path
}

func TestReadXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Personer": {
			{"Navn", "Organisasjon", "Rolle"},
			{"Jan Egeland", "Flyktninghjelpen", "Generalsekretær"},
			{"Gro Harlem Brundtland", "WHO", "Director-General"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Navn", "Organisasjon", "Rolle"}, rows[0])
	assert.Equal(t, []string{"Jan Egeland", "Flyktninghjelpen", "Generalsekretær"}, rows[1])
}

func TestReadXLSX_SkipRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Header1", "Header2"},
			{"a", "b"},
			{"c", "d"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b"}, rows[0])
}

func TestReadXLSX_SheetName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Personer":    {{"a", "b"}},
		"Pengestrøm": {{"x", "y"}, {"1", "2"}},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "Pengestrøm"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"x", "y"}, rows[0])
}

func TestReadXLSX_SheetNameNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"a"}},
	})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"a"}},
	})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_FileNotFound(t *testing.T) {
	_, err := ReadXLSX("/nonexistent/path/file.xlsx", XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}

func TestHeaderIndex(t *testing.T) {
	idx := HeaderIndex([]string{" Navn ", "Organisasjon", "", "Rolle", "navn"})
	assert.Equal(t, 0, idx["navn"])
	assert.Equal(t, 1, idx["organisasjon"])
	assert.Equal(t, 3, idx["rolle"])
	assert.Len(t, idx, 3)
}

func TestCell(t *testing.T) {
	idx := HeaderIndex([]string{"Navn", "Beløp"})
	row := []string{" Jan Egeland ", "1 200 000"}

	assert.Equal(t, "Jan Egeland", Cell(row, idx, "navn"))
	assert.Equal(t, "1 200 000", Cell(row, idx, "beløp"))
	assert.Equal(t, "", Cell(row, idx, "missing"))
	assert.Equal(t, "", Cell([]string{"only"}, idx, "beløp"))
}
