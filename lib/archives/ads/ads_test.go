package ads

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"skyquery/lib/restyutil"
	"skyquery/lib/table"
)

const searchBody = `{
	"responseHeader": {"status": 0},
	"response": {
		"numFound": 2,
		"docs": [
			{
				"bibcode": "2019ApJ...873..111I",
				"title": ["LSST: From Science Drivers to Reference Design"],
				"author": ["Ivezic, Zeljko", "Kahn, Steven M."],
				"year": "2019",
				"citation_count": 1234
			},
			{
				"bibcode": "1983ApJS...52...89H",
				"title": ["Galaxy redshifts", "A second line"],
				"year": "1983"
			}
		]
	}
}`

type recordedRequest struct {
	mu     sync.Mutex
	auth   string
	query  map[string][]string
	body   []byte
	status int
	reset  string
}

func newSearchServer(t *testing.T, rec *recordedRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/query", func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.auth = r.Header.Get("Authorization")
		rec.query = r.URL.Query()
		rec.mu.Unlock()
		if rec.status != 0 {
			if rec.reset != "" {
				w.Header().Set("X-RateLimit-Reset", rec.reset)
			}
			w.WriteHeader(rec.status)
			return
		}
		io.WriteString(w, searchBody)
	})
	mux.HandleFunc("POST /export/bibtex", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.auth = r.Header.Get("Authorization")
		rec.body = body
		rec.mu.Unlock()
		io.WriteString(w, `{"msg": "Retrieved 1 abstracts", "export": "@ARTICLE{1983ApJS...52...89H}"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSearch(t *testing.T) {
	rec := &recordedRequest{}
	srv := newSearchServer(t, rec)

	client, err := NewClient(Options{BaseURL: srv.URL, Token: "s3cret"})
	require.NoError(t, err)

	tbl, err := client.Search(
		context.Background(),
		"author:ivezic lsst",
		WithRows(10),
		WithSort("citation_count desc"),
	)
	require.NoError(t, err)

	require.Equal(t, "Bearer s3cret", rec.auth)
	require.Equal(t, "author:ivezic lsst", rec.query["q"][0])
	require.Equal(t, "bibcode,title,author,year,citation_count", rec.query["fl"][0])
	require.Equal(t, "10", rec.query["rows"][0])
	require.Equal(t, "citation_count desc", rec.query["sort"][0])

	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, []string{"bibcode", "title", "author", "year", "citation_count"}, tbl.Names())

	require.Equal(t, "2019ApJ...873..111I", tbl.Column("bibcode").Str(0))
	require.Equal(t, "LSST: From Science Drivers to Reference Design", tbl.Column("title").Str(0))
	require.Equal(t, "Ivezic, Zeljko; Kahn, Steven M.", tbl.Column("author").Str(0))
	require.Equal(t, int64(1234), tbl.Column("citation_count").Int(0))

	// second doc: multivalued title joined, missing fields are null
	require.Equal(t, "Galaxy redshifts; A second line", tbl.Column("title").Str(1))
	require.True(t, tbl.Column("author").IsNull(1))
	require.True(t, tbl.Column("citation_count").IsNull(1))

	require.Equal(t, table.Int, tbl.Column("citation_count").Meta.DType)
	require.Equal(t, table.String, tbl.Column("year").Meta.DType)
}

func TestSearchTokenFromEnv(t *testing.T) {
	rec := &recordedRequest{}
	srv := newSearchServer(t, rec)

	t.Setenv(TokenEnvVar, "env-token")
	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "object:M31")
	require.NoError(t, err)
	require.Equal(t, "Bearer env-token", rec.auth)
}

func TestSearchUnauthorized(t *testing.T) {
	rec := &recordedRequest{status: http.StatusUnauthorized}
	srv := newSearchServer(t, rec)

	client, err := NewClient(Options{BaseURL: srv.URL, Token: "expired"})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "object:M31")
	require.ErrorIs(t, err, restyutil.ErrUnauthorized)
}

func TestSearchRateLimited(t *testing.T) {
	rec := &recordedRequest{status: http.StatusTooManyRequests, reset: "1735689600"}
	srv := newSearchServer(t, rec)

	client, err := NewClient(Options{BaseURL: srv.URL, Token: "s3cret"})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "object:M31")
	require.ErrorIs(t, err, restyutil.ErrRateLimited)
	require.Contains(t, err.Error(), "1735689600")
}

func TestExportBibTeX(t *testing.T) {
	rec := &recordedRequest{}
	srv := newSearchServer(t, rec)

	client, err := NewClient(Options{BaseURL: srv.URL, Token: "s3cret"})
	require.NoError(t, err)

	export, err := client.ExportBibTeX(context.Background(), []string{"1983ApJS...52...89H"})
	require.NoError(t, err)
	require.Equal(t, "@ARTICLE{1983ApJS...52...89H}", export)

	var req map[string][]string
	require.NoError(t, json.Unmarshal(rec.body, &req))
	require.Equal(t, []string{"1983ApJS...52...89H"}, req["bibcode"])
}
