package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pilievwm/ccimageupload/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// FileFormat is the container format of an uploaded SKU list.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
)

// FormatFromFilename maps an upload filename onto a FileFormat.
func FormatFromFilename(name string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFile, filepath.Ext(name))
	}
}

// ParsedFile holds the usable SKU rows of one input file.
type ParsedFile struct {
	Entries []models.SKUEntry
	// TotalRows counts data rows, header excluded, malformed rows included.
	TotalRows     int
	MalformedRows int
}

// SKUFileReader turns an artifact into SKU entries. Row 1 is always the
// header and is discarded.
type SKUFileReader struct {
	logger *zap.Logger
}

// NewSKUFileReader creates a new SKUFileReader.
func NewSKUFileReader(logger *zap.Logger) *SKUFileReader {
	return &SKUFileReader{logger: logger}
}

// Parse reads every data row of r. Malformed rows are logged and counted but
// never fail the parse; only an unreadable container or a missing header does.
func (p *SKUFileReader) Parse(r io.Reader, format FileFormat) (*ParsedFile, error) {
	switch format {
	case FormatCSV:
		return p.parseCSV(r)
	case FormatXLSX:
		return p.parseXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFile, format)
	}
}

func (p *SKUFileReader) parseCSV(r io.Reader) (*ParsedFile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}
		var pe *csv.ParseError
		if !errors.As(err, &pe) {
			return nil, fmt.Errorf("%w: read csv header: %w", ErrJobIOFailure, err)
		}
	}

	out := &ParsedFile{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("%w: read csv: %w", ErrJobIOFailure, err)
			}
			out.TotalRows++
			out.MalformedRows++
			p.logger.Warn("Skipping unparsable row", zap.Int("row", pe.StartLine), zap.Error(err))
			continue
		}

		line, _ := reader.FieldPos(0)
		p.add(out, line, record)
	}
	return out, nil
}

func (p *SKUFileReader) parseXLSX(r io.Reader) (*ParsedFile, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %w", ErrJobIOFailure, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %w", ErrJobIOFailure, sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	out := &ParsedFile{}
	for i, row := range rows[1:] {
		p.add(out, i+2, row)
	}
	return out, nil
}

func (p *SKUFileReader) add(out *ParsedFile, rowNum int, row []string) {
	out.TotalRows++
	entry, err := NewSKUEntry(rowNum, row)
	if err != nil {
		out.MalformedRows++
		p.logger.Warn("Skipping malformed row", zap.Int("row", rowNum), zap.Error(err))
		return
	}
	out.Entries = append(out.Entries, entry)
}
