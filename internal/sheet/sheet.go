// Package sheet reads watch keywords from, and writes estimates into, the
// active worksheet of an xlsx workbook.
package sheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Workbook is an open xlsx file bound to its active sheet.
type Workbook struct {
	f     *excelize.File
	sheet string
}

// Open loads the workbook at path.
func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	return &Workbook{f: f, sheet: f.GetSheetName(f.GetActiveSheetIndex())}, nil
}

// Cells expands a range such as "A2:A10" into cell names, row by row.
// A single cell name is a one-cell range.
func Cells(rng string) ([]string, error) {
	from, to, ok := strings.Cut(rng, ":")
	if !ok {
		to = from
	}
	c1, r1, err := excelize.CellNameToCoordinates(strings.TrimSpace(from))
	if err != nil {
		return nil, fmt.Errorf("invalid range %q: %w", rng, err)
	}
	c2, r2, err := excelize.CellNameToCoordinates(strings.TrimSpace(to))
	if err != nil {
		return nil, fmt.Errorf("invalid range %q: %w", rng, err)
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	if r2 < r1 {
		r1, r2 = r2, r1
	}

	cells := make([]string, 0, (c2-c1+1)*(r2-r1+1))
	for r := r1; r <= r2; r++ {
		for c := c1; c <= c2; c++ {
			name, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return nil, err
			}
			cells = append(cells, name)
		}
	}
	return cells, nil
}

// Values returns the text of every cell in the range. Empty cells yield "".
func (w *Workbook) Values(rng string) ([]string, error) {
	cells, err := Cells(rng)
	if err != nil {
		return nil, err
	}
	values := make([]string, len(cells))
	for i, cell := range cells {
		if values[i], err = w.f.GetCellValue(w.sheet, cell); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", cell, err)
		}
	}
	return values, nil
}

// SetEstimates writes one value per cell of the range. A nil estimate clears
// the cell.
func (w *Workbook) SetEstimates(rng string, estimates []*float64) error {
	cells, err := Cells(rng)
	if err != nil {
		return err
	}
	if len(cells) != len(estimates) {
		return fmt.Errorf("output range %s has %d cells for %d estimates", rng, len(cells), len(estimates))
	}
	for i, cell := range cells {
		var v interface{}
		if estimates[i] != nil {
			v = *estimates[i]
		}
		if err := w.f.SetCellValue(w.sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write %s: %w", cell, err)
		}
	}
	return nil
}

// Save writes the workbook back to the file it was opened from.
func (w *Workbook) Save() error {
	return w.f.Save()
}

func (w *Workbook) Close() error {
	return w.f.Close()
}

// ReadKeywords returns the text of the input range of the workbook at path.
func ReadKeywords(path, inputRange string) ([]string, error) {
	wb, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()
	return wb.Values(inputRange)
}

// WriteEstimates writes estimates into the output range and saves the
// workbook in place. The output range must have as many cells as the input
// range the estimates were computed from.
func WriteEstimates(path, inputRange, outputRange string, estimates []*float64) error {
	in, err := Cells(inputRange)
	if err != nil {
		return err
	}
	if len(in) != len(estimates) {
		return fmt.Errorf("input range %s has %d cells for %d estimates", inputRange, len(in), len(estimates))
	}

	wb, err := Open(path)
	if err != nil {
		return err
	}
	defer wb.Close()
	if err := wb.SetEstimates(outputRange, estimates); err != nil {
		return err
	}
	if err := wb.Save(); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
