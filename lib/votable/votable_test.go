package votable

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"skyquery/lib/table"
)

const resultVOTable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE xmlns="http://www.ivoa.net/xml/VOTable/v1.3" version="1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="target_name" datatype="char" arraysize="*" ucd="meta.id">
        <DESCRIPTION>Name of the target</DESCRIPTION>
      </FIELD>
      <FIELD name="ra" datatype="double" unit="deg" ucd="pos.eq.ra"/>
      <FIELD name="exposure" datatype="int" unit="s">
        <VALUES null="-999"/>
      </FIELD>
      <FIELD name="calibrated" datatype="boolean"/>
      <DATA>
        <TABLEDATA>
          <TR><TD>M31</TD><TD>10.68479</TD><TD>1200</TD><TD>T</TD></TR>
          <TR><TD>M33</TD><TD></TD><TD>-999</TD><TD>F</TD></TR>
        </TABLEDATA>
      </DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

func TestParseResult(t *testing.T) {
	res, err := Parse(strings.NewReader(resultVOTable))
	require.NoError(t, err)
	require.False(t, res.Truncated)

	tbl := res.Table
	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, []string{"target_name", "ra", "exposure", "calibrated"}, tbl.Names())

	name := tbl.Column("target_name")
	require.Equal(t, table.String, name.Meta.DType)
	require.Equal(t, "meta.id", name.Meta.UCD)
	require.Equal(t, "Name of the target", name.Meta.Description)

	ra := tbl.Column("ra")
	require.Equal(t, table.Float, ra.Meta.DType)
	require.Equal(t, "deg", ra.Meta.Unit)
	require.InDelta(t, 10.68479, ra.Float(0), 1e-9)
	require.True(t, ra.IsNull(1), "empty double cell should be null")

	exposure := tbl.Column("exposure")
	require.Equal(t, int64(1200), exposure.Int(0))
	require.True(t, exposure.IsNull(1), "sentinel value should be null")

	diff := cmp.Diff([]any{"M31", 10.68479, int64(1200), true}, tbl.Row(0))
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestParseQueryError(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<VOTABLE version="1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="ERROR">
      Column 'raa' not found in table ivoa.obscore
    </INFO>
  </RESOURCE>
</VOTABLE>`

	_, err := Parse(strings.NewReader(doc))
	require.Error(t, err)

	var qerr QueryError
	require.ErrorAs(t, err, &qerr)
	require.Contains(t, qerr.Message, "Column 'raa' not found")
}

func TestParseOverflow(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<VOTABLE version="1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="id" datatype="long"/>
      <DATA><TABLEDATA>
        <TR><TD>1</TD></TR>
      </TABLEDATA></DATA>
    </TABLE>
    <INFO name="QUERY_STATUS" value="OVERFLOW"/>
  </RESOURCE>
</VOTABLE>`

	res, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Equal(t, 1, res.Table.NumRows())
}

func TestParseRejectsBinary(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<VOTABLE version="1.3">
  <RESOURCE>
    <TABLE>
      <FIELD name="id" datatype="long"/>
      <DATA><BINARY><STREAM encoding="base64">AAAA</STREAM></BINARY></DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

	_, err := Parse(strings.NewReader(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported serialization")
}

func TestParseMetadataOnly(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<VOTABLE version="1.3">
  <RESOURCE>
    <TABLE>
      <FIELD name="id" datatype="long"/>
      <FIELD name="ra" datatype="double"/>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

	res, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, 0, res.Table.NumRows())
	require.Equal(t, 2, res.Table.NumCols())
}

func TestParseNestedResource(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<VOTABLE version="1.3">
  <RESOURCE type="meta">
    <RESOURCE type="results">
      <TABLE>
        <FIELD name="access_url" datatype="char" arraysize="*"/>
        <DATA><TABLEDATA>
          <TR><TD>https://example.org/data/1.fits</TD></TR>
        </TABLEDATA></DATA>
      </TABLE>
    </RESOURCE>
  </RESOURCE>
</VOTABLE>`

	res, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "https://example.org/data/1.fits", res.Table.Column("access_url").Str(0))
}

func TestWriteRoundTrip(t *testing.T) {
	tbl := table.New(
		table.ColumnMeta{Name: "source_id", DType: table.Int},
		table.ColumnMeta{Name: "ra", Unit: "deg", DType: table.Float},
		table.ColumnMeta{Name: "name", DType: table.String},
	)
	require.NoError(t, tbl.AppendRow(int64(12), 187.70593, "M87"))
	require.NoError(t, tbl.AppendRow(int64(13), nil, "M88"))

	var buf strings.Builder
	require.NoError(t, Write(&buf, tbl))
	require.Contains(t, buf.String(), `datatype="double"`)

	res, err := Parse(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Equal(t, 2, res.Table.NumRows())
	require.InDelta(t, 187.70593, res.Table.Column("ra").Float(0), 1e-9)
	require.True(t, res.Table.Column("ra").IsNull(1))
	require.Equal(t, "M88", res.Table.Column("name").Str(1))
}
