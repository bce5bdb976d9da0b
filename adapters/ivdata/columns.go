package ivdata

import (
	"fmt"
	"strconv"

	"ivquant/domain/dataset"
	"ivquant/internal/errors"
)

// Columns names the dataset columns by header label. Instruments and
// covariates may be empty.
type Columns struct {
	Exposure    string
	Outcome     string
	Instruments []string
	Covariates  []string
}

// Validate fails fast on an unusable column mapping.
func (c Columns) Validate() error {
	if c.Exposure == "" {
		return errors.ConfigInvalid("exposure column is required")
	}
	if c.Outcome == "" {
		return errors.ConfigInvalid("outcome column is required")
	}
	return nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if h == name {
			return i, nil
		}
	}
	return 0, errors.InvalidInput(fmt.Sprintf("column %q not found in header", name))
}

// buildSamples converts string rows into a dataset using the column
// mapping. Rows with unparseable numbers are rejected, not skipped.
func buildSamples(header []string, rows [][]string, cols Columns) (*dataset.InMemory, error) {
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	xIdx, err := columnIndex(header, cols.Exposure)
	if err != nil {
		return nil, err
	}
	yIdx, err := columnIndex(header, cols.Outcome)
	if err != nil {
		return nil, err
	}
	ivIdx := make([]int, len(cols.Instruments))
	for i, name := range cols.Instruments {
		if ivIdx[i], err = columnIndex(header, name); err != nil {
			return nil, err
		}
	}
	covIdx := make([]int, len(cols.Covariates))
	for i, name := range cols.Covariates {
		if covIdx[i], err = columnIndex(header, name); err != nil {
			return nil, err
		}
	}

	parse := func(row []string, idx, rowNum int) (float64, error) {
		if idx >= len(row) {
			return 0, errors.InvalidInput(fmt.Sprintf("row %d is shorter than the header", rowNum))
		}
		v, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parsing row %d column %d", rowNum, idx)
		}
		return v, nil
	}

	samples := make([]dataset.Sample, 0, len(rows))
	for r, row := range rows {
		x, err := parse(row, xIdx, r+2)
		if err != nil {
			return nil, err
		}
		y, err := parse(row, yIdx, r+2)
		if err != nil {
			return nil, err
		}
		var ivs, covs []float64
		for _, idx := range ivIdx {
			v, err := parse(row, idx, r+2)
			if err != nil {
				return nil, err
			}
			ivs = append(ivs, v)
		}
		for _, idx := range covIdx {
			v, err := parse(row, idx, r+2)
			if err != nil {
				return nil, err
			}
			covs = append(covs, v)
		}
		samples = append(samples, dataset.Sample{X: x, Y: y, Instruments: ivs, Covariates: covs})
	}
	return dataset.New(samples, cols.Covariates)
}
