package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func TestNormalizeSKU(t *testing.T) {
	cases := []struct {
		name string
		row  []string
		want string
		err  bool
	}{
		{name: "plain", row: []string{"1011B001.001"}, want: "1011B001.001"},
		{name: "double dot", row: []string{"1011B..001"}, want: "1011B_001"},
		{name: "many double dots", row: []string{"A..B..C"}, want: "A_B_C"},
		{name: "triple dot", row: []string{"A...B"}, want: "A_.B"},
		{name: "trims whitespace", row: []string{"  SKU001 \t"}, want: "SKU001"},
		{name: "extra columns ignored", row: []string{"SKU001", "Shoe", "42"}, want: "SKU001"},
		{name: "empty row", row: nil, err: true},
		{name: "blank first column", row: []string{"   ", "x"}, err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeSKU(tc.row)
			if tc.err {
				assert.ErrorIs(t, err, ErrMalformedRow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.NotContains(t, got, "..")
		})
	}
}

func TestNewSKUEntryKeepsRawForCatalog(t *testing.T) {
	e, err := NewSKUEntry(3, []string{" 1011B..001 "})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Row)
	assert.Equal(t, "1011B..001", e.Raw)
	assert.Equal(t, "1011B_001", e.Key)
}

func TestFormatFromFilename(t *testing.T) {
	for name, want := range map[string]FileFormat{
		"skus.csv":  FormatCSV,
		"SKUS.TXT":  FormatCSV,
		"list.xlsx": FormatXLSX,
	} {
		got, err := FormatFromFilename(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := FormatFromFilename("evil.exe")
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestParseCSV_DiscardsHeaderAndCountsMalformed(t *testing.T) {
	in := "sku,name\nSKU001,Shoe\n,missing\nSKU..002\n   \nSKU003,\"unterminated\n"
	got, err := NewSKUFileReader(zap.NewNop()).Parse(strings.NewReader(in), FormatCSV)
	require.NoError(t, err)

	require.Len(t, got.Entries, 2)
	assert.Equal(t, "SKU001", got.Entries[0].Raw)
	assert.Equal(t, 2, got.Entries[0].Row)
	assert.Equal(t, "SKU..002", got.Entries[1].Raw)
	assert.Equal(t, "SKU_002", got.Entries[1].Key)
	assert.Equal(t, 4, got.Entries[1].Row)

	// ",missing", "   " and the broken quote
	assert.Equal(t, 3, got.MalformedRows)
	assert.Equal(t, 5, got.TotalRows)
}

func TestParseCSV_HeaderOnly(t *testing.T) {
	got, err := NewSKUFileReader(zap.NewNop()).Parse(strings.NewReader("sku\n"), FormatCSV)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
	assert.Equal(t, 0, got.TotalRows)
}

func TestParseCSV_EmptyFile(t *testing.T) {
	_, err := NewSKUFileReader(zap.NewNop()).Parse(strings.NewReader(""), FormatCSV)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestParseXLSX_FirstSheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", "SKU"))
	require.NoError(t, f.SetCellValue(sheet, "A2", "1011B..001"))
	require.NoError(t, f.SetCellValue(sheet, "A4", "SKU002"))
	require.NoError(t, f.SetCellValue(sheet, "B3", "no sku here"))
	_, err := f.NewSheet("Other")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Other", "A2", "IGNORED"))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	got, err := NewSKUFileReader(zap.NewNop()).Parse(&buf, FormatXLSX)
	require.NoError(t, err)

	require.Len(t, got.Entries, 2)
	assert.Equal(t, "1011B..001", got.Entries[0].Raw)
	assert.Equal(t, "1011B_001", got.Entries[0].Key)
	assert.Equal(t, 2, got.Entries[0].Row)
	assert.Equal(t, "SKU002", got.Entries[1].Raw)
	assert.Equal(t, 4, got.Entries[1].Row)
	assert.Equal(t, 1, got.MalformedRows)
	assert.Equal(t, 3, got.TotalRows)
}

func TestParseXLSX_NotAWorkbook(t *testing.T) {
	_, err := NewSKUFileReader(zap.NewNop()).Parse(strings.NewReader("plain text"), FormatXLSX)
	assert.ErrorIs(t, err, ErrJobIOFailure)
}

// buildXLSX returns a workbook whose first sheet has one value per row in
// column A.
func buildXLSX(t *testing.T, column []string) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, v := range column {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, v))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())
	return buf.String()
}
