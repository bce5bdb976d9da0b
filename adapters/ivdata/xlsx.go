package ivdata

import (
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"ivquant/domain/dataset"
	"ivquant/internal/errors"
)

// ReadXLSX loads a headered worksheet into an in-memory dataset.
// An empty sheet name means the first sheet in the workbook.
func ReadXLSX(path, sheet string, cols Columns) (*dataset.InMemory, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sheet %q", sheet)
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInput("worksheet needs a header and at least one data row")
	}
	return buildSamples(rows[0], rows[1:], cols)
}

// Read dispatches on the file extension, so callers do not need to
// care whether the input is csv or xlsx.
func Read(path, sheet string, cols Columns) (*dataset.InMemory, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(path, cols)
	case ".xlsx":
		return ReadXLSX(path, sheet, cols)
	default:
		return nil, errors.InvalidInput("unsupported file type, expected .csv or .xlsx")
	}
}
