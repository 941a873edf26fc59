package table

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apierrors "concentra/internal/errors"
)

func TestFromRowsNullsAndRagged(t *testing.T) {
	tbl := FromRows(
		[]string{"a", "b"},
		[][]string{
			{"1", ""},
			{"2"},
			{"", "x"},
		})

	require.Equal(t, 3, tbl.RowCount())
	a := tbl.Column("a")
	b := tbl.Column("b")
	assert.False(t, a.IsNull(0))
	assert.True(t, a.IsNull(2))
	assert.True(t, b.IsNull(0), "empty cell is null")
	assert.True(t, b.IsNull(1), "short row pads with null")
	assert.Equal(t, "x", b.Strings[2])
}

func TestReadDelimitedPreservesLeadingZeros(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("code,amount\n00123,10\n,20\n"), 0o644))

	tbl, err := ReadDelimited(path, ReadOptions{})
	require.NoError(t, err)

	code := tbl.Column("code")
	require.NotNil(t, code)
	assert.Equal(t, "00123", code.Strings[0])
	assert.True(t, code.IsNull(1))
}

func TestReadDelimitedSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n1\n2\n3\n"), 0o644))

	_, err := ReadDelimited(path, ReadOptions{MaxBytes: 4})
	require.Error(t, err)
	assert.True(t, apierrors.IsKind(err, apierrors.KindPayloadTooLarge))
}

func TestReadDelimitedNotFound(t *testing.T) {
	_, err := ReadDelimited(filepath.Join(t.TempDir(), "missing.csv"), ReadOptions{})
	require.Error(t, err)
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

func TestReadDelimitedStripsBOM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bom.csv")
	require.NoError(t, os.WriteFile(path, append([]byte{0xEF, 0xBB, 0xBF}, []byte("name\nacme\n")...), 0o644))

	tbl, err := ReadDelimited(path, ReadOptions{})
	require.NoError(t, err)
	assert.True(t, tbl.HasColumn("name"))
}

func TestColumnarRoundTrip(t *testing.T) {
	tbl := New()

	floats := &Column{
		Name:   "value",
		Type:   TypeFloat,
		Nulls:  []bool{false, true, false},
		Floats: []float64{1.1000000000000001, 0, -2.5e18},
	}
	strs := NewStringColumn("name", 3)
	strs.SetString(0, "acme")
	strs.SetNull(1)
	strs.SetString(2, "beta")
	bools := &Column{
		Name:  "active",
		Type:  TypeBoolean,
		Nulls: []bool{false, false, true},
		Bools: []bool{true, false, false},
	}
	times := &Column{
		Name:  "asof",
		Type:  TypeDatetime,
		Nulls: []bool{false, true, false},
		Times: []time.Time{
			time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			{},
			time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC),
		},
	}
	for _, c := range []*Column{floats, strs, bools, times} {
		require.NoError(t, tbl.AddColumn(c))
	}

	path := filepath.Join(t.TempDir(), "normalized.columns.json")
	require.NoError(t, WriteColumnar(tbl, path))

	got, err := ReadColumnar(path)
	require.NoError(t, err)

	require.Equal(t, tbl.RowCount(), got.RowCount())
	require.Equal(t, tbl.ColumnNames(), got.ColumnNames())

	gotFloats := got.Column("value")
	assert.Equal(t, floats.Nulls, gotFloats.Nulls)
	// Bit-exact for finite floats.
	assert.Equal(t, floats.Floats[0], gotFloats.Floats[0])
	assert.Equal(t, floats.Floats[2], gotFloats.Floats[2])

	assert.Equal(t, strs.Strings, got.Column("name").Strings)
	assert.Equal(t, bools.Bools, got.Column("active").Bools)
	assert.True(t, times.Times[0].Equal(got.Column("asof").Times[0]))
	assert.True(t, got.Column("asof").IsNull(1))
}

func TestWriteDelimitedRoundTrip(t *testing.T) {
	tbl := New()
	name := NewStringColumn("entity", 3)
	name.SetString(0, "acme")
	name.SetNull(1)
	name.SetString(2, "beta")
	value := &Column{
		Name:   "revenue",
		Type:   TypeFloat,
		Nulls:  []bool{false, false, true},
		Floats: []float64{100.5, 2000, 0},
	}
	require.NoError(t, tbl.AddColumn(name))
	require.NoError(t, tbl.AddColumn(value))

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteDelimited(tbl, path))

	got, err := ReadDelimited(path, ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, got.RowCount())
	assert.Equal(t, []string{"entity", "revenue"}, got.ColumnNames())
	assert.Equal(t, "acme", got.Column("entity").Strings[0])
	assert.True(t, got.Column("entity").IsNull(1))
	assert.Equal(t, "100.5", got.Column("revenue").Strings[0])
	assert.True(t, got.Column("revenue").IsNull(2))
}

func TestReadColumnarNotFound(t *testing.T) {
	_, err := ReadColumnar(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

func TestSpreadsheetRoundTrip(t *testing.T) {
	tbl := New()
	name := NewStringColumn("entity", 2)
	name.SetString(0, "acme")
	name.SetString(1, "beta")
	value := &Column{
		Name:   "revenue",
		Type:   TypeFloat,
		Nulls:  []bool{false, false},
		Floats: []float64{100.5, 200},
	}
	require.NoError(t, tbl.AddColumn(name))
	require.NoError(t, tbl.AddColumn(value))

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteSpreadsheet([]Sheet{{Name: "Data", Table: tbl}}, path))

	got, err := ReadSpreadsheet(path, "Data", ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, got.RowCount())
	assert.Equal(t, []string{"entity", "revenue"}, got.ColumnNames())
	assert.Equal(t, "acme", got.Column("entity").Strings[0])
}

func TestWriteSpreadsheetSheetOrder(t *testing.T) {
	tbl := New()
	c := NewStringColumn("a", 1)
	c.SetString(0, "x")
	require.NoError(t, tbl.AddColumn(c))

	path := filepath.Join(t.TempDir(), "multi.xlsx")
	sheets := []Sheet{
		{Name: "First", Table: tbl},
		{Name: "Second", Table: tbl},
		{Name: "Third", Table: tbl},
	}
	require.NoError(t, WriteSpreadsheet(sheets, path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"First", "Second", "Third"}, f.GetSheetList())
}

func TestSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	digest, err := SHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", digest)
	assert.Len(t, digest, 64)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "doc.json")
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`)))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
