package adql

import (
	"fmt"
	"strconv"
	"strings"

	"skyquery/lib/coords"
)

// QuoteString renders a value as an ADQL string literal, doubling any
// embedded single quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdentifier renders a delimited identifier, for table or column
// names that collide with ADQL keywords.
func QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// FormatFloat renders a coordinate or angle as an ADQL numeric
// literal, never in exponent notation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ConeSearch builds the standard positional query: rows whose
// (RAColumn, DecColumn) fall within Radius of Center.
type ConeSearch struct {
	Table     string
	RAColumn  string
	DecColumn string
	Center    coords.SkyCoord
	Radius    coords.Angle

	// Columns defaults to *.
	Columns []string
	// Top truncates server side when > 0.
	Top int
	// Where holds extra conditions, ANDed after the cone.
	Where []string
	// OrderBy is an optional column (or column DESC) clause.
	OrderBy string
}

func (c ConeSearch) Build() string {
	var q strings.Builder

	q.WriteString("SELECT ")
	if c.Top > 0 {
		fmt.Fprintf(&q, "TOP %d ", c.Top)
	}
	if len(c.Columns) == 0 {
		q.WriteString("*")
	} else {
		q.WriteString(strings.Join(c.Columns, ", "))
	}

	fmt.Fprintf(
		&q, " FROM %s WHERE 1=CONTAINS(POINT('ICRS',%s,%s),CIRCLE('ICRS',%s,%s,%s))",
		c.Table, c.RAColumn, c.DecColumn,
		FormatFloat(c.Center.RA), FormatFloat(c.Center.Dec), FormatFloat(c.Radius.Degrees()),
	)

	for _, cond := range c.Where {
		q.WriteString(" AND ")
		q.WriteString(cond)
	}
	if c.OrderBy != "" {
		q.WriteString(" ORDER BY ")
		q.WriteString(c.OrderBy)
	}

	return q.String()
}
