package table

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	apierrors "concentra/internal/errors"
)

// ReadSpreadsheet reads one sheet of a workbook into an all-string table.
// An empty sheet name selects the first sheet. Cell values come back in
// their displayed form, so leading zeros in text cells survive.
func ReadSpreadsheet(path, sheet string, opts ReadOptions) (*Table, error) {
	if err := checkSize(path, opts.MaxBytes); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierrors.NotFoundf("File %s not found", filepath.Base(path))
		}
		return nil, apierrors.Validationf("Unreadable spreadsheet: %v", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apierrors.Validationf("Workbook contains no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apierrors.Validationf("Sheet %q not found in workbook", sheet)
	}
	if len(rows) == 0 {
		return nil, apierrors.Validationf("Sheet %q contains no rows", sheet)
	}
	return FromRows(rows[0], rows[1:]), nil
}

// Sheet pairs a sheet name with its table for workbook export.
type Sheet struct {
	Name  string
	Table *Table
}

// WriteSpreadsheet writes ordered sheets into a workbook. The first sheet
// replaces the default one excelize creates.
func WriteSpreadsheet(sheets []Sheet, path string) error {
	if len(sheets) == 0 {
		return fmt.Errorf("no sheets to write")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet.Name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(sheet.Name); err != nil {
				return fmt.Errorf("create sheet %q: %w", sheet.Name, err)
			}
		}
		if err := writeSheet(f, sheet.Name, sheet.Table); err != nil {
			return err
		}
	}

	// Save through a temp file and rename so readers never see a torn
	// workbook.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("create temp workbook: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	if err := f.SaveAs(tmpName); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, t *Table) error {
	header := make([]interface{}, t.ColumnCount())
	for i, col := range t.ColumnNames() {
		header[i] = col
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("write header on %q: %w", name, err)
	}

	row := make([]interface{}, t.ColumnCount())
	for i := 0; i < t.RowCount(); i++ {
		for j, c := range t.Columns() {
			if c.IsNull(i) {
				row[j] = nil
				continue
			}
			switch c.Type {
			case TypeFloat:
				row[j] = c.Floats[i]
			case TypeInteger:
				row[j] = c.Ints[i]
			case TypeBoolean:
				row[j] = c.Bools[i]
			default:
				row[j] = c.CellString(i)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell coordinates: %w", err)
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("write row %d on %q: %w", i, name, err)
		}
	}
	return nil
}
