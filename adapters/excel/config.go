package excel

import "strings"

// Columns selects which table columns feed a dataset.
type Columns struct {
	// X lists the independent variable columns in model variable order.
	X []string `json:"x" yaml:"x"`
	Y string   `json:"y" yaml:"y"`
	// Sigma is optional; blank cells mark observations without uncertainty.
	Sigma string `json:"sigma,omitempty" yaml:"sigma,omitempty"`
	// Sheet defaults to Sheet1 for workbooks and is ignored for CSV.
	Sheet string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
}

// DefaultColumns reads x, y and an optional sigma column.
func DefaultColumns() Columns {
	return Columns{X: []string{"x"}, Y: "y"}
}

func (c Columns) sheet() string {
	if strings.TrimSpace(c.Sheet) == "" {
		return "Sheet1"
	}
	return c.Sheet
}
