package estimation

import (
	"encoding/csv"
	"io"
	"strconv"

	"ivquant/internal/errors"
	"ivquant/ports"
)

// ExportEstimates writes the averaged causal effect curve over an
// exposure grid as CSV. When the estimator carries uncertainty, the
// interval bounds are included.
func ExportEstimates(w io.Writer, est ports.EstimatorPort, lower, upper float64, points int, alpha float64) error {
	if points < 2 {
		return errors.InvalidInput("effect curve needs at least two points")
	}
	cw := csv.NewWriter(w)
	unc, hasUnc := est.(ports.UncertaintyEstimatorPort)
	if hasUnc {
		// Interval columns only make sense when the fitted model takes
		// no per-query covariates.
		if _, err := unc.EffectWithInterval(lower, nil, alpha); err != nil {
			hasUnc = false
		}
	}

	header := []string{"x", "y_do_x"}
	if hasUnc {
		header = append(header, "y_do_x_lower", "y_do_x_upper")
	}
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "writing estimates header")
	}

	step := (upper - lower) / float64(points-1)
	for i := 0; i < points; i++ {
		x := lower + float64(i)*step
		y, err := est.AvgEffect(x)
		if err != nil {
			return err
		}
		row := []string{fmtF(x), fmtF(y)}
		if hasUnc {
			iv, err := unc.EffectWithInterval(x, nil, alpha)
			if err != nil {
				return err
			}
			row = append(row, fmtF(iv.Lower), fmtF(iv.Upper))
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "writing estimates row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing estimates")
}

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
