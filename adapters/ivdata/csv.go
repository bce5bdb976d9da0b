package ivdata

import (
	"encoding/csv"
	"os"

	"ivquant/domain/dataset"
	"ivquant/internal/errors"
)

// ReadCSV loads a headered CSV file into an in-memory dataset.
func ReadCSV(path string, cols Columns) (*dataset.InMemory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if len(records) < 2 {
		return nil, errors.InvalidInput("csv file needs a header and at least one data row")
	}
	return buildSamples(records[0], records[1:], cols)
}
