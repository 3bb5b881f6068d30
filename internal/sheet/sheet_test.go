package sheet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, cells map[string]string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	for cell, v := range cells {
		require.NoError(t, f.SetCellValue(sheet, cell, v))
	}
	path := filepath.Join(t.TempDir(), "watches.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestCells(t *testing.T) {
	cells, err := Cells("A1:B2")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B1", "A2", "B2"}, cells)

	cells, err = Cells("C3")
	require.NoError(t, err)
	assert.Equal(t, []string{"C3"}, cells)

	cells, err = Cells("A3:A1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2", "A3"}, cells)

	_, err = Cells("nope:1")
	require.Error(t, err)
}

func TestReadKeywords(t *testing.T) {
	path := writeWorkbook(t, map[string]string{"A1": "vintage  rolex", "A3": "omega!"})

	values, err := ReadKeywords(path, "A1:A3")
	require.NoError(t, err)
	assert.Equal(t, []string{"vintage  rolex", "", "omega!"}, values)
}

func TestWriteEstimates(t *testing.T) {
	path := writeWorkbook(t, map[string]string{"A1": "a", "A2": "b", "B2": "stale"})
	price := 12.5

	require.NoError(t, WriteEstimates(path, "A1:A2", "B1:B2", []*float64{&price, nil}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	v, err := f.GetCellValue(sheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "12.5", v)
	v, err = f.GetCellValue(sheet, "B2")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestWriteEstimates_SizeMismatch(t *testing.T) {
	path := writeWorkbook(t, map[string]string{"A1": "a"})
	price := 1.0

	err := WriteEstimates(path, "A1:A2", "B1:B2", []*float64{&price})
	require.Error(t, err)

	err = WriteEstimates(path, "A1", "B1:B2", []*float64{&price})
	require.Error(t, err)
}
