package nist

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"skyquery/lib/table"
)

const linesPage = `<html><head><title>ASD Output</title></head><body>
<pre>
obs_wl_vac(A) | ritz_wl_vac(A) | intens | Aki(s^-1) | Acc. |      Ei(eV)      |      Ek(eV)      | conf_i | term_i | J_i | conf_k | term_k | J_k | Type |
--------------|----------------|--------|-----------|------|------------------|------------------|--------|--------|-----|--------|--------|-----|------|
              |   4102.85985   |        | 3.841e+03 |  AAA |   10.19880606    |   13.22070497    | 2s     | 2S     | 1/2 | 5p     | 2P*    | 3/2 |      |
   4102.892   |   4102.8922    |  70    | 9.732e+05 |  AAA |   10.19880606    |   13.22070497    | 2p     | 2P*    | 1/2 | 5d     | 2D     | 3/2 |      |
</pre>
</body></html>`

const noLinesPage = `<html><body>
<p>No lines are available in ASD with the parameters selected.</p>
</body></html>`

func newLinesServer(t *testing.T, page string, query *url.Values, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*query = r.URL.Query()
		mu.Unlock()
		io.WriteString(w, page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryLines(t *testing.T) {
	var query url.Values
	var mu sync.Mutex
	srv := newLinesServer(t, linesPage, &query, &mu)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	tbl, err := client.QueryLines(context.Background(), "H I", 4000, 7000)
	require.NoError(t, err)

	require.Equal(t, "H I", query.Get("spectra"))
	require.Equal(t, "4000", query.Get("low_w"))
	require.Equal(t, "7000", query.Get("upp_w"))
	require.Equal(t, "0", query.Get("unit"))
	require.Equal(t, "3", query.Get("show_av"))
	require.Equal(t, "1", query.Get("format"))
	require.Equal(t, "on", query.Get("remove_js"))

	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, 14, tbl.NumCols())

	obs := tbl.Column("obs_wl_vac(A)")
	require.NotNil(t, obs)
	require.Equal(t, table.Float, obs.Meta.DType)
	require.True(t, obs.IsNull(0), "lines without an observed wavelength stay null")
	require.InDelta(t, 4102.892, obs.Float(1), 1e-6)

	ritz := tbl.Column("ritz_wl_vac(A)")
	require.Equal(t, table.Float, ritz.Meta.DType)
	require.InDelta(t, 4102.85985, ritz.Float(0), 1e-6)

	require.True(t, tbl.Column("intens").IsNull(0))
	require.Equal(t, int64(70), tbl.Column("intens").Int(1))
	require.Equal(t, "2P*", tbl.Column("term_k").Str(0))
	require.Equal(t, "1/2", tbl.Column("J_i").Str(1))
}

func TestQueryLinesUnits(t *testing.T) {
	var query url.Values
	var mu sync.Mutex
	srv := newLinesServer(t, linesPage, &query, &mu)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.QueryLines(
		context.Background(), "Fe II", 400, 700,
		WithUnit(Nanometer),
		WithWavelengthType(VacuumAndAir),
	)
	require.NoError(t, err)

	require.Equal(t, "1", query.Get("unit"))
	require.Equal(t, "4", query.Get("show_av"))
}

func TestQueryLinesNoLines(t *testing.T) {
	var query url.Values
	var mu sync.Mutex
	srv := newLinesServer(t, noLinesPage, &query, &mu)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.QueryLines(context.Background(), "H I", 1, 2)
	require.ErrorIs(t, err, ErrNoLines)
}

func TestParseASCIITableRejectsEmpty(t *testing.T) {
	_, err := parseASCIITable("\n\n----|----\n")
	require.Error(t, err)
}
