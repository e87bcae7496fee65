package tap

import (
	"context"
	"encoding/xml"
	"fmt"

	"skyquery/lib/restyutil"
)

type ColumnInfo struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Unit        string `xml:"unit"`
	UCD         string `xml:"ucd"`
	DataType    string `xml:"dataType"`
}

type TableInfo struct {
	Name        string       `xml:"name"`
	Description string       `xml:"description"`
	Columns     []ColumnInfo `xml:"column"`
}

type SchemaInfo struct {
	Name   string      `xml:"name"`
	Tables []TableInfo `xml:"table"`
}

type xmlTableSet struct {
	Schemas []SchemaInfo `xml:"schema"`
}

// Tables fetches the VOSI tables document, the queryable schema of the
// service.
func (c *Client) Tables(ctx context.Context) ([]SchemaInfo, error) {
	ctx, span := tracer.Start(ctx, "Tables")
	defer span.End()

	res, err := c.http.R().SetContext(ctx).Get(c.endpoint("tables"))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		return nil, serr
	}

	var doc xmlTableSet
	err = xml.Unmarshal(res.Body(), &doc)
	if err != nil {
		return nil, fmt.Errorf("decode vosi tableset: %w", err)
	}
	return doc.Schemas, nil
}
