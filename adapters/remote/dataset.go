package remote

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"curvefit/adapters/excel"
	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// LoadDataset fetches src and converts each record into an observation.
// Column names are gjson paths relative to a record, so nested fields such
// as "reading.value" work. A missing or null sigma marks an observation
// without uncertainty.
func LoadDataset(ctx context.Context, name string, src Source, cols excel.Columns, client *http.Client, log zerolog.Logger) (*fit.Dataset, error) {
	records, err := NewReader(src, client, log).Fetch(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "load dataset %s", name)
	}
	return ToDataset(name, records, cols)
}

// ToDataset reads the selected fields from every record.
func ToDataset(name string, records []gjson.Result, cols excel.Columns) (*fit.Dataset, error) {
	if len(cols.X) == 0 || cols.Y == "" {
		return nil, errors.InvalidInput("dataset columns need at least one x column and a y column")
	}
	n := len(records)
	x := make([][]float64, len(cols.X))
	for v := range x {
		x[v] = make([]float64, n)
	}
	y := make([]float64, n)
	var sigma []float64
	if cols.Sigma != "" {
		sigma = make([]float64, n)
	}

	for i, rec := range records {
		for v, path := range cols.X {
			val, err := number(rec.Get(path))
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("%s record %d field %q: %v", name, i, path, err))
			}
			x[v][i] = val
		}
		val, err := number(rec.Get(cols.Y))
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("%s record %d field %q: %v", name, i, cols.Y, err))
		}
		y[i] = val
		if sigma == nil {
			continue
		}
		s := rec.Get(cols.Sigma)
		if !s.Exists() || s.Type == gjson.Null {
			sigma[i] = math.NaN()
			continue
		}
		if sigma[i], err = number(s); err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("%s record %d field %q: %v", name, i, cols.Sigma, err))
		}
	}
	return fit.NewDataset(name, x, y, sigma)
}

// number accepts JSON numbers and numeric strings.
func number(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		v, err := strconv.ParseFloat(r.Str, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", r.Str)
		}
		return v, nil
	}
	if !r.Exists() {
		return 0, fmt.Errorf("missing")
	}
	return 0, fmt.Errorf("not a number: %s", r.Raw)
}
