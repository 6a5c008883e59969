package excel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	log      zerolog.Logger
}

// NewDataReader creates a new data reader that handles both Excel and CSV files
func NewDataReader(filePath string, log zerolog.Logger) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType, log: log}
}

// ReadData reads the table from a CSV file or a workbook sheet
func (r *DataReader) ReadData(sheet string) (*Table, error) {
	r.log.Debug().Str("file", r.filePath).Str("type", r.fileType).Msg("reading data file")

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVData()
	case "xlsx":
		return r.readSheet(sheet)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

// readSheet reads one sheet of a workbook
func (r *DataReader) readSheet(sheet string) (*Table, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	r.log.Debug().Str("sheet", sheet).Int("rows", len(rows)).Dur("elapsed", time.Since(startTime)).Msg("sheet read")

	if len(rows) < 2 {
		return nil, fmt.Errorf("Excel sheet must have at least a header row and one data row")
	}
	return r.processRows(rows), nil
}

// readCSVData reads CSV data into structured format
func (r *DataReader) readCSVData() (*Table, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	r.log.Debug().Int("rows", len(rows)).Msg("csv read")

	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file must have at least a header row and one data row")
	}
	return r.processRows(rows), nil
}

// processRows converts raw string rows into Table format
func (r *DataReader) processRows(rows [][]string) *Table {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(header)
	}

	var dataRows []Row
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}
		rowData := make(Row)
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}
	return &Table{Headers: headers, Rows: dataRows}
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// LoadDataset reads path and converts the selected columns into a dataset
// named after the file.
func LoadDataset(path string, cols Columns, log zerolog.Logger) (*fit.Dataset, error) {
	data, err := NewDataReader(path, log).ReadData(cols.sheet())
	if err != nil {
		return nil, errors.Wrapf(err, "load dataset %s", path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ToDataset(name, data, cols)
}

// ToDataset parses the selected columns as numbers. X and Y cells must be
// numeric; a blank sigma cell marks an observation without uncertainty.
func ToDataset(name string, data *Table, cols Columns) (*fit.Dataset, error) {
	if len(cols.X) == 0 || cols.Y == "" {
		return nil, errors.InvalidInput("dataset columns need at least one x column and a y column")
	}
	column := func(header string) ([]string, error) {
		cells, ok := data.Column(header)
		if !ok {
			return nil, errors.InvalidInput(fmt.Sprintf("column %q not found in %s (have %s)",
				header, name, strings.Join(data.Headers, ", ")))
		}
		return cells, nil
	}
	numbers := func(header string, cells []string, blankIsNaN bool) ([]float64, error) {
		out := make([]float64, len(cells))
		for i, cell := range cells {
			if cell == "" && blankIsNaN {
				out[i] = math.NaN()
				continue
			}
			v, err := parseCell(cell)
			if err != nil {
				// header is line 1
				return nil, errors.InvalidInput(fmt.Sprintf("%s line %d column %q: %v", name, i+2, header, err))
			}
			out[i] = v
		}
		return out, nil
	}

	x := make([][]float64, len(cols.X))
	for v, c := range cols.X {
		cells, err := column(c)
		if err != nil {
			return nil, err
		}
		if x[v], err = numbers(c, cells, false); err != nil {
			return nil, err
		}
	}
	cells, err := column(cols.Y)
	if err != nil {
		return nil, err
	}
	y, err := numbers(cols.Y, cells, false)
	if err != nil {
		return nil, err
	}
	var sigma []float64
	if cols.Sigma != "" {
		if cells, err = column(cols.Sigma); err != nil {
			return nil, err
		}
		if sigma, err = numbers(cols.Sigma, cells, true); err != nil {
			return nil, err
		}
	}
	return fit.NewDataset(name, x, y, sigma)
}

func parseCell(cell string) (float64, error) {
	if cell == "" {
		return 0, fmt.Errorf("empty cell")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", cell)
	}
	return v, nil
}
