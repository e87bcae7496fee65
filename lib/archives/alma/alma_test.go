package alma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"skyquery/lib/coords"
	"skyquery/lib/oauth"
	"skyquery/lib/votable"
)

const obscoreVotable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.4" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="target_name" datatype="char" arraysize="*"/>
      <FIELD name="s_ra" datatype="double"/>
      <FIELD name="s_dec" datatype="double"/>
      <DATA><TABLEDATA>
        <TR><TD>NGC 253</TD><TD>11.888</TD><TD>-25.288</TD></TR>
        <TR><TD>NGC 253</TD><TD>11.901</TD><TD>-25.291</TD></TR>
      </TABLEDATA></DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

const datalinkVotable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.4" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="ID" datatype="char" arraysize="*"/>
      <FIELD name="access_url" datatype="char" arraysize="*"/>
      <FIELD name="content_length" datatype="long"/>
      <FIELD name="semantics" datatype="char" arraysize="*"/>
      <DATA><TABLEDATA>
        <TR>
          <TD>uid://A001/X1296/X6d1</TD>
          <TD>https://almascience.eso.org/dataPortal/2019.1.01056.S_uid___A001_X1296_X6d1.asdm.sdm.tar</TD>
          <TD>251658240</TD>
          <TD>#this</TD>
        </TR>
        <TR>
          <TD>uid://A001/X1296/X6d1</TD>
          <TD>https://almascience.eso.org/dataPortal/member.uid___A001_X1296_X6d1.README.txt</TD>
          <TD>2048</TD>
          <TD>#documentation</TD>
        </TR>
      </TABLEDATA></DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

const badUIDVotable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.4" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="ERROR">Invalid member ous id</INFO>
  </RESOURCE>
</VOTABLE>`

type almaService struct {
	mu           sync.Mutex
	lastQuery    string
	tapAuth      string
	datalinkAuth string
	lastID       string
}

func newTestServer(t *testing.T) (*httptest.Server, *almaService) {
	t.Helper()
	svc := &almaService{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tap/sync", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		svc.mu.Lock()
		svc.lastQuery = r.PostForm.Get("QUERY")
		svc.tapAuth = r.Header.Get("Authorization")
		svc.mu.Unlock()
		w.Header().Set("Content-Type", "application/x-votable+xml")
		w.Write([]byte(obscoreVotable))
	})
	mux.HandleFunc("GET /datalink/sync", func(w http.ResponseWriter, r *http.Request) {
		svc.mu.Lock()
		svc.lastID = r.URL.Query().Get("ID")
		svc.datalinkAuth = r.Header.Get("Authorization")
		svc.mu.Unlock()
		w.Header().Set("Content-Type", "application/x-votable+xml")
		if r.URL.Query().Get("ID") == "uid://bogus" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(badUIDVotable))
			return
		}
		w.Write([]byte(datalinkVotable))
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("client_id") != "test-cli" ||
			r.PostForm.Get("username") != "observer" ||
			r.PostForm.Get("password") != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Options{
		TAPURL:      srv.URL + "/tap",
		DatalinkURL: srv.URL + "/datalink/sync",
		Auth: oauth.Endpoint{
			TokenURL: srv.URL + "/token",
			ClientID: "test-cli",
		},
	})
	require.NoError(t, err)
	return client
}

func TestQueryObject(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	tbl, err := client.QueryObject(context.Background(), "NGC 253")
	require.NoError(t, err)

	svc.mu.Lock()
	require.Equal(t,
		"SELECT * FROM ivoa.obscore WHERE target_name = 'NGC 253'",
		svc.lastQuery)
	svc.mu.Unlock()

	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, "NGC 253", tbl.Column("target_name").Str(0))
	require.InDelta(t, 11.888, tbl.Column("s_ra").Float(0), 1e-9)
}

func TestQueryRegion(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	center := coords.SkyCoord{RA: 201.365, Dec: -43.019}
	_, err := client.QueryRegion(context.Background(), center, coords.Angle(0.25))
	require.NoError(t, err)

	svc.mu.Lock()
	require.Equal(t,
		"SELECT * FROM ivoa.obscore WHERE 1=CONTAINS(POINT('ICRS',s_ra,s_dec),"+
			"CIRCLE('ICRS',201.365,-43.019,0.25))",
		svc.lastQuery)
	svc.mu.Unlock()
}

func TestDataInfo(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	tbl, err := client.DataInfo(context.Background(), "uid://A001/X1296/X6d1")
	require.NoError(t, err)

	svc.mu.Lock()
	require.Equal(t, "uid://A001/X1296/X6d1", svc.lastID)
	svc.mu.Unlock()

	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, "#this", tbl.Column("semantics").Str(0))
	require.Equal(t, int64(251658240), tbl.Column("content_length").Int(0))
}

func TestDataInfoBadUID(t *testing.T) {
	srv, _ := newTestServer(t)
	client := newTestClient(t, srv)

	_, err := client.DataInfo(context.Background(), "uid://bogus")
	var qerr votable.QueryError
	require.ErrorAs(t, err, &qerr)
	require.Contains(t, qerr.Error(), "Invalid member ous id")
}

func TestLoginInstallsToken(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	require.NoError(t, client.Login(context.Background(), "observer", "hunter2"))

	_, err := client.QueryObject(context.Background(), "NGC 253")
	require.NoError(t, err)
	_, err = client.DataInfo(context.Background(), "uid://A001/X1296/X6d1")
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Equal(t, "Bearer tok-1", svc.tapAuth)
	require.Equal(t, "Bearer tok-1", svc.datalinkAuth)
}

func TestLogoutDropsToken(t *testing.T) {
	srv, svc := newTestServer(t)
	client := newTestClient(t, srv)

	require.NoError(t, client.Login(context.Background(), "observer", "hunter2"))
	client.Logout()

	_, err := client.QueryObject(context.Background(), "NGC 253")
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Equal(t, "", svc.tapAuth)
}

func TestLoginRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	client := newTestClient(t, srv)

	err := client.Login(context.Background(), "observer", "wrong")
	require.Error(t, err)
}
