package table

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apierrors "concentra/internal/errors"
)

// columnarDoc is the persisted column-store layout. Floats round-trip
// bit-exact through encoding/json's shortest-representation encoding;
// datetimes are stored as RFC 3339 nanosecond strings.
type columnarDoc struct {
	Version int             `json:"version"`
	Rows    int             `json:"rows"`
	Columns []columnarEntry `json:"columns"`
}

type columnarEntry struct {
	Name    string      `json:"name"`
	Type    Type        `json:"type"`
	Nulls   []bool      `json:"nulls"`
	Ints    []int64     `json:"ints,omitempty"`
	Floats  []float64   `json:"floats,omitempty"`
	Bools   []bool      `json:"bools,omitempty"`
	Times   []string    `json:"times,omitempty"`
	Strings []string    `json:"strings,omitempty"`
}

const columnarVersion = 1

// WriteColumnar persists a typed table through a temp-and-rename so a
// crashed writer never leaves a torn file behind.
func WriteColumnar(t *Table, path string) error {
	doc := columnarDoc{Version: columnarVersion, Rows: t.RowCount()}
	for _, c := range t.Columns() {
		entry := columnarEntry{Name: c.Name, Type: c.Type, Nulls: c.Nulls}
		switch c.Type {
		case TypeInteger:
			entry.Ints = c.Ints
		case TypeFloat:
			entry.Floats = c.Floats
		case TypeBoolean:
			entry.Bools = c.Bools
		case TypeDatetime:
			entry.Times = make([]string, len(c.Times))
			for i, ts := range c.Times {
				if !c.Nulls[i] {
					entry.Times[i] = ts.Format(time.RFC3339Nano)
				}
			}
		case TypeString:
			entry.Strings = c.Strings
		}
		doc.Columns = append(doc.Columns, entry)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode columnar document: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// ReadColumnar loads a typed table previously written by WriteColumnar.
func ReadColumnar(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierrors.NotFoundf("Normalized table not found")
		}
		return nil, fmt.Errorf("read columnar file: %w", err)
	}

	var doc columnarDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode columnar document: %w", err)
	}

	t := New()
	for _, entry := range doc.Columns {
		c := &Column{Name: entry.Name, Type: entry.Type, Nulls: entry.Nulls}
		switch entry.Type {
		case TypeInteger:
			c.Ints = entry.Ints
		case TypeFloat:
			c.Floats = entry.Floats
		case TypeBoolean:
			c.Bools = entry.Bools
		case TypeDatetime:
			c.Times = make([]time.Time, len(entry.Times))
			for i, s := range entry.Times {
				if s == "" {
					continue
				}
				ts, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return nil, fmt.Errorf("decode timestamp in column %q: %w", entry.Name, err)
				}
				c.Times[i] = ts
			}
		case TypeString:
			c.Strings = entry.Strings
		default:
			return nil, fmt.Errorf("unknown column type %q", entry.Type)
		}
		if err := t.AddColumn(c); err != nil {
			return nil, fmt.Errorf("rebuild table: %w", err)
		}
	}
	return t, nil
}

// WriteFileAtomic writes data through a temp file and rename in the
// target's directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
