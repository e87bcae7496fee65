package table

import (
	"fmt"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
)

// Render pretty-prints the table for terminal output. Units show up in
// the header next to the column name.
func (t *Table) Render() string {
	w := prettytable.NewWriter()
	w.SetStyle(prettytable.StyleRounded)

	header := prettytable.Row{}
	for _, c := range t.columns {
		name := c.Meta.Name
		if c.Meta.Unit != "" {
			name = fmt.Sprintf("%s [%s]", name, c.Meta.Unit)
		}
		header = append(header, name)
	}
	w.AppendHeader(header)

	for i := 0; i < t.NumRows(); i++ {
		row := prettytable.Row{}
		for _, c := range t.columns {
			if c.IsNull(i) {
				row = append(row, "")
				continue
			}
			row = append(row, c.Value(i))
		}
		w.AppendRow(row)
	}

	return w.Render()
}
