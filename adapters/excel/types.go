package excel

// Row maps a header to the cell text of one table row.
type Row map[string]string

// Table is one sheet or CSV file. Headers keep file order.
type Table struct {
	Headers []string
	Rows    []Row
}

// Column returns the cells under header, or false when the header is absent.
func (t *Table) Column(header string) ([]string, bool) {
	for _, h := range t.Headers {
		if h != header {
			continue
		}
		cells := make([]string, len(t.Rows))
		for i, row := range t.Rows {
			cells[i] = row[h]
		}
		return cells, true
	}
	return nil, false
}
