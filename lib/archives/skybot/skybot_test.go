package skybot

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skyquery/lib/coords"
	"skyquery/lib/votable"
)

const coneVotable = `<?xml version="1.0"?>
<VOTABLE version="1.1">
  <RESOURCE name="SkyBoT.ConeSearch">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE name="SkybotConeSearch_results">
      <FIELD ID="num" name="Num" ucd="meta.id;meta.number" datatype="char" arraysize="6"/>
      <FIELD ID="name" name="Name" ucd="meta.id" datatype="char" arraysize="32"/>
      <FIELD ID="ra" name="RA" ucd="pos.eq.ra;meta.main" datatype="double" unit="deg"/>
      <FIELD ID="de" name="DEC" ucd="pos.eq.dec;meta.main" datatype="double" unit="deg"/>
      <FIELD ID="class" name="Class" ucd="meta.code.class;src.class" datatype="char" arraysize="24"/>
      <FIELD ID="magV" name="Mv" ucd="phot.mag;em.opt.V" datatype="float"/>
      <DATA><TABLEDATA>
        <TR><TD>1</TD><TD>Ceres</TD><TD>213.0565</TD><TD>-14.5723</TD><TD>MB&gt;Inner</TD><TD>8.9</TD></TR>
        <TR><TD></TD><TD>2021 RS7</TD><TD>213.1100</TD><TD>-14.4000</TD><TD>NEA&gt;Apollo</TD><TD>22.1</TD></TR>
      </TABLEDATA></DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

const errorVotable = `<?xml version="1.0"?>
<VOTABLE version="1.1">
  <RESOURCE>
    <INFO name="QUERY_STATUS" value="ERROR">no observable object found</INFO>
  </RESOURCE>
</VOTABLE>`

func newConeServer(t *testing.T, body string, query *url.Values, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*query = r.URL.Query()
		mu.Unlock()
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConeSearch(t *testing.T) {
	var query url.Values
	var mu sync.Mutex
	srv := newConeServer(t, coneVotable, &query, &mu)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	center, err := coords.New(213.05, -14.57)
	require.NoError(t, err)
	epoch := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

	tbl, err := client.ConeSearch(context.Background(), center, coords.Angle(0.5), epoch)
	require.NoError(t, err)

	require.Equal(t, "213.05", query.Get("-ra"))
	require.Equal(t, "-14.57", query.Get("-dec"))
	require.Equal(t, "0.5", query.Get("-rd"))
	require.Equal(t, "2451545", query.Get("-ep"), "J2000.0 noon as a julian date")
	require.Equal(t, "500", query.Get("-loc"))
	require.Equal(t, "votable", query.Get("-mime"))
	require.Equal(t, "120", query.Get("-filter"))

	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, "Ceres", tbl.Column("Name").Str(0))
	require.Equal(t, "MB>Inner", tbl.Column("Class").Str(0))
	require.InDelta(t, 213.0565, tbl.Column("RA").Float(0), 1e-9)
	require.Equal(t, "", tbl.Column("Num").Str(1), "unnumbered objects have no Num")
}

func TestConeSearchClampsRadius(t *testing.T) {
	var query url.Values
	var mu sync.Mutex
	srv := newConeServer(t, coneVotable, &query, &mu)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	center, err := coords.New(10, 10)
	require.NoError(t, err)

	_, err = client.ConeSearch(
		context.Background(), center, coords.Angle(25), time.Now(),
		WithObserver("809"),
		WithObjectFilter("110"),
	)
	require.NoError(t, err)

	require.Equal(t, "10", query.Get("-rd"))
	require.Equal(t, "809", query.Get("-loc"))
	require.Equal(t, "110", query.Get("-objFilter"))
}

func TestConeSearchBangError(t *testing.T) {
	var query url.Values
	var mu sync.Mutex
	srv := newConeServer(t, "! wrong format for the RA parameter\n", &query, &mu)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	center, err := coords.New(10, 10)
	require.NoError(t, err)

	_, err = client.ConeSearch(context.Background(), center, coords.Angle(1), time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "wrong format for the RA parameter")
}

func TestConeSearchVotableError(t *testing.T) {
	var query url.Values
	var mu sync.Mutex
	srv := newConeServer(t, errorVotable, &query, &mu)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	center, err := coords.New(10, 10)
	require.NoError(t, err)

	_, err = client.ConeSearch(context.Background(), center, coords.Angle(1), time.Now())
	var qerr votable.QueryError
	require.ErrorAs(t, err, &qerr)
	require.Contains(t, qerr.Message, "no observable object found")
}
