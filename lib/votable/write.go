package votable

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"skyquery/lib/table"
)

type xmlOutVOTable struct {
	XMLName  xml.Name       `xml:"VOTABLE"`
	Version  string         `xml:"version,attr"`
	Xmlns    string         `xml:"xmlns,attr"`
	Resource xmlOutResource `xml:"RESOURCE"`
}

type xmlOutResource struct {
	Table xmlOutTable `xml:"TABLE"`
}

type xmlOutTable struct {
	Fields []xmlOutField `xml:"FIELD"`
	Rows   []xmlOutRow   `xml:"DATA>TABLEDATA>TR"`
}

type xmlOutField struct {
	Name      string `xml:"name,attr"`
	Datatype  string `xml:"datatype,attr"`
	ArraySize string `xml:"arraysize,attr,omitempty"`
	Unit      string `xml:"unit,attr,omitempty"`
	Ucd       string `xml:"ucd,attr,omitempty"`
}

type xmlOutRow struct {
	Cells []string `xml:"TD"`
}

// Write serializes a table as a TABLEDATA VOTable, the format TAP
// services accept for inline uploads.
func Write(w io.Writer, tbl *table.Table) error {
	doc := xmlOutVOTable{
		Version: "1.3",
		Xmlns:   "http://www.ivoa.net/xml/VOTable/v1.3",
	}

	for i := 0; i < tbl.NumCols(); i++ {
		meta := tbl.ColumnAt(i).Meta
		field := xmlOutField{
			Name: meta.Name,
			Unit: meta.Unit,
			Ucd:  meta.UCD,
		}
		switch meta.DType {
		case table.Bool:
			field.Datatype = "boolean"
		case table.Int:
			field.Datatype = "long"
		case table.Float:
			field.Datatype = "double"
		default:
			field.Datatype = "char"
			field.ArraySize = "*"
		}
		doc.Resource.Table.Fields = append(doc.Resource.Table.Fields, field)
	}

	for i := 0; i < tbl.NumRows(); i++ {
		row := xmlOutRow{}
		for j := 0; j < tbl.NumCols(); j++ {
			row.Cells = append(row.Cells, formatCell(tbl.ColumnAt(j), i))
		}
		doc.Resource.Table.Rows = append(doc.Resource.Table.Rows, row)
	}

	_, err := io.WriteString(w, xml.Header)
	if err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	err = enc.Encode(doc)
	if err != nil {
		return fmt.Errorf("encode votable: %w", err)
	}
	return nil
}

func formatCell(c *table.Column, i int) string {
	if c.IsNull(i) {
		return ""
	}
	switch c.Meta.DType {
	case table.Bool:
		if c.Bool(i) {
			return "true"
		}
		return "false"
	case table.Int:
		return strconv.FormatInt(c.Int(i), 10)
	case table.Float:
		return strconv.FormatFloat(c.Float(i), 'g', -1, 64)
	default:
		return c.Str(i)
	}
}
