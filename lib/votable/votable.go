package votable

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"skyquery/lib/table"
)

// QueryError is the service-reported failure carried inside an
// otherwise well-formed VOTable (INFO name="QUERY_STATUS" value="ERROR").
type QueryError struct {
	Message string
}

func (e QueryError) Error() string {
	return fmt.Sprintf("query error: %s", e.Message)
}

// Result is a parsed VOTable. Truncated reports the OVERFLOW status
// services emit when a row limit cut the output short.
type Result struct {
	Table     *table.Table
	Truncated bool
}

type xmlVOTable struct {
	XMLName   xml.Name      `xml:"VOTABLE"`
	Infos     []xmlInfo     `xml:"INFO"`
	Resources []xmlResource `xml:"RESOURCE"`
}

type xmlResource struct {
	Infos     []xmlInfo     `xml:"INFO"`
	Tables    []xmlTable    `xml:"TABLE"`
	Resources []xmlResource `xml:"RESOURCE"`
}

type xmlInfo struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	Text  string `xml:",chardata"`
}

type xmlTable struct {
	Fields []xmlField `xml:"FIELD"`
	Data   *xmlData   `xml:"DATA"`
}

type xmlField struct {
	Name        string     `xml:"name,attr"`
	Datatype    string     `xml:"datatype,attr"`
	ArraySize   string     `xml:"arraysize,attr"`
	Unit        string     `xml:"unit,attr"`
	Ucd         string     `xml:"ucd,attr"`
	Description string     `xml:"DESCRIPTION"`
	Values      *xmlValues `xml:"VALUES"`
}

type xmlValues struct {
	Null string `xml:"null,attr"`
}

type xmlData struct {
	TableData *xmlTableData `xml:"TABLEDATA"`
	Binary    *xmlAnyData   `xml:"BINARY"`
	Binary2   *xmlAnyData   `xml:"BINARY2"`
	Fits      *xmlAnyData   `xml:"FITS"`
}

type xmlAnyData struct{}

type xmlTableData struct {
	Rows []xmlRow `xml:"TR"`
}

type xmlRow struct {
	Cells []string `xml:"TD"`
}

// Parse decodes a TABLEDATA-serialized VOTable. A QUERY_STATUS=ERROR
// info becomes a QueryError, QUERY_STATUS=OVERFLOW sets Truncated.
func Parse(r io.Reader) (Result, error) {
	var doc xmlVOTable
	err := xml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return Result{}, fmt.Errorf("decode votable: %w", err)
	}

	truncated := false
	for _, info := range collectInfos(doc) {
		if info.Name != "QUERY_STATUS" {
			continue
		}
		switch strings.ToUpper(info.Value) {
		case "ERROR":
			message := strings.TrimSpace(info.Text)
			if message == "" {
				message = "unspecified error"
			}
			return Result{}, QueryError{Message: message}
		case "OVERFLOW":
			truncated = true
		}
	}

	xt := findTable(doc.Resources)
	if xt == nil {
		return Result{}, fmt.Errorf("votable contains no TABLE")
	}

	tbl, err := convertTable(xt)
	if err != nil {
		return Result{}, err
	}
	return Result{Table: tbl, Truncated: truncated}, nil
}

func collectInfos(doc xmlVOTable) []xmlInfo {
	infos := append([]xmlInfo{}, doc.Infos...)
	var walk func(resources []xmlResource)
	walk = func(resources []xmlResource) {
		for _, res := range resources {
			infos = append(infos, res.Infos...)
			walk(res.Resources)
		}
	}
	walk(doc.Resources)
	return infos
}

func findTable(resources []xmlResource) *xmlTable {
	for i := range resources {
		if len(resources[i].Tables) > 0 {
			return &resources[i].Tables[0]
		}
		if found := findTable(resources[i].Resources); found != nil {
			return found
		}
	}
	return nil
}

func convertTable(xt *xmlTable) (*table.Table, error) {
	metas := make([]table.ColumnMeta, len(xt.Fields))
	for i, f := range xt.Fields {
		metas[i] = table.ColumnMeta{
			Name:        f.Name,
			Unit:        f.Unit,
			UCD:         f.Ucd,
			Description: strings.TrimSpace(f.Description),
			DType:       dtypeFor(f),
		}
	}
	tbl := table.New(metas...)

	if xt.Data == nil {
		// metadata-only table, valid for MAXREC=0 probes
		return tbl, nil
	}
	if xt.Data.TableData == nil {
		return nil, fmt.Errorf("votable uses an unsupported serialization (BINARY/BINARY2/FITS)")
	}

	for _, row := range xt.Data.TableData.Rows {
		if len(row.Cells) != len(xt.Fields) {
			return nil, fmt.Errorf("row has %d cells, table has %d fields", len(row.Cells), len(xt.Fields))
		}
		values := make([]any, len(row.Cells))
		for i, cell := range row.Cells {
			v, err := convertCell(cell, xt.Fields[i], metas[i].DType)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", xt.Fields[i].Name, err)
			}
			values[i] = v
		}
		err := tbl.AppendRow(values...)
		if err != nil {
			return nil, err
		}
	}

	return tbl, nil
}

// dtypeFor maps VOTable datatypes onto column types. Arrays of
// numbers stay as their raw text since nothing downstream indexes
// into them.
func dtypeFor(f xmlField) table.DType {
	isArray := f.ArraySize != "" && f.ArraySize != "1"
	switch f.Datatype {
	case "boolean":
		return table.Bool
	case "bit", "unsignedByte", "short", "int", "long":
		if isArray {
			return table.String
		}
		return table.Int
	case "float", "double":
		if isArray {
			return table.String
		}
		return table.Float
	default:
		// char, unicodeChar, complex variants, anything unknown
		return table.String
	}
}

func convertCell(cell string, f xmlField, dtype table.DType) (any, error) {
	trimmed := strings.TrimSpace(cell)
	if f.Values != nil && f.Values.Null != "" && trimmed == f.Values.Null {
		return nil, nil
	}

	switch dtype {
	case table.Bool:
		switch trimmed {
		case "T", "t", "1", "true", "TRUE":
			return true, nil
		case "F", "f", "0", "false", "FALSE":
			return false, nil
		case "", "?":
			return nil, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", trimmed)
	case table.Int:
		if trimmed == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case table.Float:
		if trimmed == "" || trimmed == "NaN" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return cell, nil
	}
}
