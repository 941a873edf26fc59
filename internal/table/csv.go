package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	apierrors "concentra/internal/errors"
)

// ReadOptions configures delimited-text reading.
type ReadOptions struct {
	// Comma is the field delimiter. Zero means comma.
	Comma rune
	// MaxBytes refuses larger files with PayloadTooLarge. Zero means no limit.
	MaxBytes int64
}

// ReadDelimited reads a delimited text file into an all-string table.
// Empty cells become nulls; leading zeros and other string content are
// preserved untouched.
func ReadDelimited(path string, opts ReadOptions) (*Table, error) {
	if err := checkSize(path, opts.MaxBytes); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierrors.NotFoundf("File %s not found", filepath.Base(path))
		}
		return nil, fmt.Errorf("read delimited file: %w", err)
	}

	// Strip a UTF-8 BOM so the first header survives intact.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, apierrors.Validationf("Malformed delimited file: %v", err)
	}
	if len(records) == 0 {
		return nil, apierrors.Validationf("File contains no rows")
	}
	return FromRows(records[0], records[1:]), nil
}

// WriteDelimited writes a table as comma-delimited text with a UTF-8 BOM
// for spreadsheet-application compatibility.
func WriteDelimited(t *Table, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create delimited file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("write BOM: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, t.ColumnCount())
	for i := 0; i < t.RowCount(); i++ {
		for j, c := range t.Columns() {
			row[j] = c.CellString(i)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}

func checkSize(path string, maxBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apierrors.NotFoundf("File %s not found", filepath.Base(path))
		}
		return fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > maxBytes {
		return apierrors.PayloadTooLargef("File exceeds the %d byte limit", maxBytes)
	}
	return nil
}
