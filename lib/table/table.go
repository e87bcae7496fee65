package table

import "fmt"

// DType is the storage type of a column.
type DType int

const (
	String DType = iota
	Int
	Float
	Bool
)

func (d DType) String() string {
	switch d {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

type ColumnMeta struct {
	Name        string
	Unit        string
	UCD         string
	Description string
	DType       DType
}

// Column stores one typed column plus a null mask. Only the backing
// slice matching Meta.DType is populated.
type Column struct {
	Meta ColumnMeta

	strings []string
	ints    []int64
	floats  []float64
	bools   []bool
	nulls   []bool
}

func (c *Column) Len() int {
	return len(c.nulls)
}

func (c *Column) IsNull(i int) bool {
	return c.nulls[i]
}

func (c *Column) Str(i int) string {
	return c.strings[i]
}

func (c *Column) Int(i int) int64 {
	return c.ints[i]
}

func (c *Column) Float(i int) float64 {
	return c.floats[i]
}

func (c *Column) Bool(i int) bool {
	return c.bools[i]
}

// Value returns the cell as an any, or nil when the cell is null.
func (c *Column) Value(i int) any {
	if c.nulls[i] {
		return nil
	}
	switch c.Meta.DType {
	case String:
		return c.strings[i]
	case Int:
		return c.ints[i]
	case Float:
		return c.floats[i]
	case Bool:
		return c.bools[i]
	}
	return nil
}

func (c *Column) check(v any) error {
	if v == nil {
		return nil
	}
	ok := false
	switch c.Meta.DType {
	case String:
		_, ok = v.(string)
	case Int:
		switch v.(type) {
		case int, int64:
			ok = true
		}
	case Float:
		switch v.(type) {
		case float64, float32:
			ok = true
		}
	case Bool:
		_, ok = v.(bool)
	}
	if !ok {
		return fmt.Errorf("cannot store %T in a %s column", v, c.Meta.DType)
	}
	return nil
}

func (c *Column) append(v any) {
	if v == nil {
		c.grow(true)
		return
	}
	c.grow(false)
	last := len(c.nulls) - 1
	switch c.Meta.DType {
	case String:
		c.strings[last] = v.(string)
	case Int:
		switch n := v.(type) {
		case int:
			c.ints[last] = int64(n)
		case int64:
			c.ints[last] = n
		}
	case Float:
		switch n := v.(type) {
		case float64:
			c.floats[last] = n
		case float32:
			c.floats[last] = float64(n)
		}
	case Bool:
		c.bools[last] = v.(bool)
	}
}

func (c *Column) grow(null bool) {
	switch c.Meta.DType {
	case String:
		c.strings = append(c.strings, "")
	case Int:
		c.ints = append(c.ints, 0)
	case Float:
		c.floats = append(c.floats, 0)
	case Bool:
		c.bools = append(c.bools, false)
	}
	c.nulls = append(c.nulls, null)
}

// Table is a set of equal-length typed columns, the common product of
// every archive parser.
type Table struct {
	columns []*Column
	byName  map[string]int
}

func New(metas ...ColumnMeta) *Table {
	t := &Table{byName: map[string]int{}}
	for _, m := range metas {
		t.columns = append(t.columns, &Column{Meta: m})
		if _, taken := t.byName[m.Name]; !taken {
			t.byName[m.Name] = len(t.columns) - 1
		}
	}
	return t
}

func (t *Table) NumCols() int {
	return len(t.columns)
}

func (t *Table) NumRows() int {
	if len(t.columns) == 0 {
		return 0
	}
	return t.columns[0].Len()
}

func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Meta.Name
	}
	return names
}

// Column looks a column up by name, returning nil if it does not exist.
// Duplicate names resolve to the leftmost column.
func (t *Table) Column(name string) *Column {
	i, ok := t.byName[name]
	if !ok {
		return nil
	}
	return t.columns[i]
}

func (t *Table) ColumnAt(i int) *Column {
	return t.columns[i]
}

// AppendRow adds one value per column. nil marks a null cell. The row
// is only committed if every value matches its column type.
func (t *Table) AppendRow(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("expected %d values, got %d", len(t.columns), len(values))
	}
	for i, v := range values {
		if err := t.columns[i].check(v); err != nil {
			return fmt.Errorf("column %q: %w", t.columns[i].Meta.Name, err)
		}
	}
	for i, v := range values {
		t.columns[i].append(v)
	}
	return nil
}

// Row returns the cells of row i, nulls as nil.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.columns))
	for j, c := range t.columns {
		row[j] = c.Value(i)
	}
	return row
}

// Head returns a copy with at most n leading rows.
func (t *Table) Head(n int) *Table {
	metas := make([]ColumnMeta, len(t.columns))
	for i, c := range t.columns {
		metas[i] = c.Meta
	}
	out := New(metas...)
	if n > t.NumRows() {
		n = t.NumRows()
	}
	for i := 0; i < n; i++ {
		// row came out of this table so it cannot fail the type check
		_ = out.AppendRow(t.Row(i)...)
	}
	return out
}
