package integral

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skyquery/lib/coords"
)

const sourcesVotable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.4" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="name" datatype="char" arraysize="*"/>
      <FIELD name="ra" datatype="double"/>
      <FIELD name="dec" datatype="double"/>
      <FIELD name="source_id" datatype="char" arraysize="*"/>
      <DATA><TABLEDATA>
        <TR><TD>Crab</TD><TD>83.633</TD><TD>22.0145</TD><TD>J053432.0+220052</TD></TR>
      </TABLEDATA></DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

const emptySourcesVotable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.4" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="name" datatype="char" arraysize="*"/>
      <FIELD name="ra" datatype="double"/>
      <FIELD name="dec" datatype="double"/>
      <FIELD name="source_id" datatype="char" arraysize="*"/>
      <DATA><TABLEDATA>
      </TABLEDATA></DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

const observationsVotable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.4" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="obs_id" datatype="char" arraysize="*"/>
      <FIELD name="title" datatype="char" arraysize="*"/>
      <FIELD name="start_date" datatype="char" arraysize="*"/>
      <FIELD name="start_revno" datatype="char" arraysize="*"/>
      <DATA><TABLEDATA>
        <TR><TD>01200360001</TD><TD>Crab monitoring</TD><TD>2020-03-01T10:00:00</TD><TD>0152</TD></TR>
        <TR><TD>01200370001</TD><TD>Crab monitoring</TD><TD>2020-03-04T08:30:00</TD><TD>0153</TD></TR>
      </TABLEDATA></DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

const epochsVotable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.4" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="epoch" datatype="char" arraysize="*"/>
      <DATA><TABLEDATA>
        <TR><TD>0152_0</TD></TR>
        <TR><TD>0153_0</TD></TR>
      </TABLEDATA></DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

type islaService struct {
	mu      sync.Mutex
	queries []string
}

func newTestServer(t *testing.T) (*httptest.Server, *islaService) {
	t.Helper()
	svc := &islaService{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tap/tap/sync", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query := r.PostForm.Get("QUERY")
		svc.mu.Lock()
		svc.queries = append(svc.queries, query)
		svc.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-votable+xml")
		switch {
		case strings.Contains(query, "DISTINCT epoch"):
			w.Write([]byte(epochsVotable))
		case strings.Contains(query, "ila.v_cat_source"):
			if strings.Contains(query, "nonexistent") {
				w.Write([]byte(emptySourcesVotable))
				return
			}
			w.Write([]byte(sourcesVotable))
		case strings.Contains(query, "ila.v_observation"):
			w.Write([]byte(observationsVotable))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

func (s *islaService) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return ""
	}
	return s.queries[len(s.queries)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Options{ServerURL: srv.URL + "/tap"})
	require.NoError(t, err)
	return client
}

func TestSources(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	tbl, err := client.Sources(context.Background(), "crab")
	require.NoError(t, err)
	require.Equal(t, 1, tbl.NumRows())
	require.Equal(t, "Crab", tbl.Column("name").Str(0))

	require.Equal(t,
		"SELECT * FROM ila.v_cat_source WHERE name ILIKE '%crab%' ORDER BY name",
		svc.lastQuery())
}

func TestObservationsByTarget(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	tbl, err := client.Observations(context.Background(), ObservationQuery{
		Target:   "Crab",
		RevnoMin: 100,
		RevnoMax: 200,
	})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.NumRows())

	svc.mu.Lock()
	require.Len(t, svc.queries, 2)
	require.Contains(t, svc.queries[0], "ila.v_cat_source")
	require.Equal(t,
		"SELECT * FROM ila.v_observation "+
			"WHERE 1=CONTAINS(POINT('ICRS',ra,dec),CIRCLE('ICRS',83.633,22.0145,14)) "+
			"AND start_revno >= '0100' AND end_revno <= '0200' "+
			"ORDER BY start_date",
		svc.queries[1])
	svc.mu.Unlock()
}

func TestObservationsByCenter(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	center := coords.SkyCoord{RA: 83.5, Dec: 22}
	_, err := client.Observations(context.Background(), ObservationQuery{
		Center:      &center,
		Radius:      coords.Angle(5),
		StartAfter:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		StartBefore: time.Date(2021, 6, 30, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	svc.mu.Lock()
	require.Len(t, svc.queries, 1)
	require.Equal(t,
		"SELECT * FROM ila.v_observation "+
			"WHERE 1=CONTAINS(POINT('ICRS',ra,dec),CIRCLE('ICRS',83.5,22,5)) "+
			"AND start_date >= '2020-01-01T00:00:00' "+
			"AND start_date <= '2021-06-30T12:00:00' "+
			"ORDER BY start_date",
		svc.queries[0])
	svc.mu.Unlock()
}

func TestObservationsValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	client := newTestClient(t, srv)

	_, err := client.Observations(context.Background(), ObservationQuery{})
	require.ErrorContains(t, err, "needs a Target or a Center")

	center := coords.SkyCoord{RA: 1, Dec: 2}
	_, err = client.Observations(context.Background(), ObservationQuery{
		Target: "Crab",
		Center: &center,
	})
	require.ErrorContains(t, err, "not both")
}

func TestObservationsSourceNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	client := newTestClient(t, srv)

	_, err := client.Observations(context.Background(), ObservationQuery{
		Target: "nonexistent pulsar",
	})
	require.ErrorIs(t, err, ErrSourceNotFound)
}

func TestEpochs(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	epochs, err := client.Epochs(context.Background(), "Crab", "28_40")
	require.NoError(t, err)
	require.Equal(t, []string{"0152_0", "0153_0"}, epochs)

	require.Equal(t,
		"SELECT DISTINCT epoch FROM ila.epoch WHERE source_id IN "+
			"(SELECT source_id FROM ila.v_cat_source WHERE name ILIKE '%Crab%') "+
			"AND band = '28_40' ORDER BY epoch",
		svc.lastQuery())
}

func TestEpochsNoBand(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	_, err := client.Epochs(context.Background(), "Crab", "")
	require.NoError(t, err)
	require.NotContains(t, svc.lastQuery(), "band")
	require.Contains(t, svc.lastQuery(), "ORDER BY epoch")
}
