package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadDelim parses delimiter-separated text where the first record
// holds column names. Column types are inferred by scanning the data:
// a column where every non-empty cell parses as an integer becomes Int,
// then Float, otherwise String. Empty cells become nulls.
func ReadDelim(r io.Reader, comma rune) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read delimited text: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no header record")
	}

	header := records[0]
	rows := records[1:]
	for _, row := range rows {
		for i, cell := range row {
			row[i] = strings.TrimSpace(cell)
		}
	}

	metas := make([]ColumnMeta, len(header))
	for col, name := range header {
		metas[col] = ColumnMeta{
			Name:  strings.TrimSpace(name),
			DType: inferDType(rows, col),
		}
	}

	t := New(metas...)
	for _, row := range rows {
		values := make([]any, len(row))
		for col, cell := range row {
			if cell == "" {
				continue
			}
			switch metas[col].DType {
			case Int:
				n, err := strconv.ParseInt(cell, 10, 64)
				if err != nil {
					return nil, err
				}
				values[col] = n
			case Float:
				f, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, err
				}
				values[col] = f
			default:
				values[col] = cell
			}
		}
		err := t.AppendRow(values...)
		if err != nil {
			return nil, err
		}
	}

	return t, nil
}

// WriteCSV writes the table as CSV with a header row. Nulls become
// empty cells, so a round trip through ReadDelim keeps them.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(t.Names()); err != nil {
		return err
	}

	record := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j := 0; j < t.NumCols(); j++ {
			c := t.ColumnAt(j)
			if c.IsNull(i) {
				record[j] = ""
				continue
			}
			switch c.Meta.DType {
			case Int:
				record[j] = strconv.FormatInt(c.Int(i), 10)
			case Float:
				record[j] = strconv.FormatFloat(c.Float(i), 'g', -1, 64)
			case Bool:
				record[j] = strconv.FormatBool(c.Bool(i))
			default:
				record[j] = c.Str(i)
			}
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func inferDType(rows [][]string, col int) DType {
	sawValue := false
	isInt := true
	isFloat := true

	for _, row := range rows {
		cell := row[col]
		if cell == "" {
			continue
		}
		sawValue = true
		if isInt {
			_, err := strconv.ParseInt(cell, 10, 64)
			isInt = err == nil
		}
		if isFloat {
			_, err := strconv.ParseFloat(cell, 64)
			isFloat = err == nil
		}
		if !isInt && !isFloat {
			break
		}
	}

	switch {
	case !sawValue:
		return String
	case isInt:
		return Int
	case isFloat:
		return Float
	}
	return String
}
