package splatalogue

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"skyquery/lib/querycache"
	"skyquery/lib/table"
	"skyquery/lib/testutil"
)

const formPage = `<html><body>
<form method="post" action="c.php">
<select name="sid[]" id="sid" multiple="multiple" size="10">
<option value="">Select Species</option>
<option value="204">H2Ov=0 - Water</option>
<option value="1208">HDO - Water, HDO</option>
<option value="125">COv=0 - Carbon Monoxide</option>
</select>
</form>
</body></html>`

const exportText = `Species:Chemical Name:Freq-GHz:Freq Err:Resolved QNs:CDMS/JPL Intensity:E_U (K):Linelist
HDO:Water:80.578295:0.000011:1(1,0)-1(1,1):-26.2917:46.8:CDMS
HDO:Water:120.778159:0.00002:2(1,1)-2(1,2):-25.9745:66.4:JPL

Found 2 rows
`

type mockSite struct {
	formHits atomic.Int64

	mu       sync.Mutex
	lastForm url.Values
}

func newMockSite(t *testing.T, site *mockSite) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /b.php", func(w http.ResponseWriter, r *http.Request) {
		site.formHits.Add(1)
		io.WriteString(w, formPage)
	})
	mux.HandleFunc("POST /c_export.php", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		site.mu.Lock()
		site.lastForm = r.PostForm
		site.mu.Unlock()
		io.WriteString(w, exportText)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSpecies(t *testing.T) {
	site := &mockSite{}
	srv := newMockSite(t, site)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	species, err := client.Species(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Species{
		{ID: "204", Name: "H2Ov=0 - Water"},
		{ID: "1208", Name: "HDO - Water, HDO"},
		{ID: "125", Name: "COv=0 - Carbon Monoxide"},
	}, species)

	// memoized per client
	_, err = client.Species(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), site.formHits.Load())
}

func TestSpeciesUsesCache(t *testing.T) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "splatalogue",
		DbSchema: querycache.Schema,
	})
	defer cleanup()
	cache := querycache.New(res.DB)

	site := &mockSite{}
	srv := newMockSite(t, site)

	first, err := NewClient(Options{BaseURL: srv.URL, Cache: &cache})
	require.NoError(t, err)
	_, err = first.Species(context.Background())
	require.NoError(t, err)

	second, err := NewClient(Options{BaseURL: srv.URL, Cache: &cache})
	require.NoError(t, err)
	_, err = second.Species(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(1), site.formHits.Load())
}

func TestSpeciesIDsSubstring(t *testing.T) {
	site := &mockSite{}
	srv := newMockSite(t, site)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	matches, err := client.SpeciesIDs(context.Background(), "water")
	require.NoError(t, err)

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	// the exact name match outranks the partial one, carbon monoxide
	// does not appear at all
	require.Equal(t, []string{"204", "1208"}, ids)
}

func TestSpeciesIDsFuzzy(t *testing.T) {
	site := &mockSite{}
	srv := newMockSite(t, site)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	matches, err := client.SpeciesIDs(context.Background(), "wter")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "204", matches[0].ID)
}

func TestQueryLines(t *testing.T) {
	site := &mockSite{}
	srv := newMockSite(t, site)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	tbl, err := client.QueryLines(context.Background(), LineQuery{
		MinFreq:    80,
		MaxFreq:    130,
		SpeciesIDs: []string{"204", "1208"},
		EnergyMaxK: 100,
	})
	require.NoError(t, err)

	site.mu.Lock()
	form := site.lastForm
	site.mu.Unlock()

	require.Equal(t, "80", form.Get("from"))
	require.Equal(t, "130", form.Get("to"))
	require.Equal(t, "GHz", form.Get("frequency_units"))
	require.Equal(t, []string{"204", "1208"}, form["sid[]"])
	require.Equal(t, "colon", form.Get("export_delimiter"))
	require.Equal(t, "100", form.Get("energy_range_to"))
	require.Equal(t, "eu_k", form.Get("energy_range_type"))
	// all line lists by default
	require.Equal(t, "displayJPL", form.Get("displayJPL"))
	require.Equal(t, "displayLovas", form.Get("displayLovas"))

	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, "HDO", tbl.Column("Species").Str(0))
	require.Equal(t, table.Float, tbl.Column("Freq-GHz").Meta.DType)
	require.InDelta(t, 80.578295, tbl.Column("Freq-GHz").Float(0), 1e-9)
	require.Equal(t, "2(1,1)-2(1,2)", tbl.Column("Resolved QNs").Str(1))
	require.Equal(t, "JPL", tbl.Column("Linelist").Str(1))
}

func TestQueryLinesEmptyRange(t *testing.T) {
	site := &mockSite{}
	srv := newMockSite(t, site)

	client, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.QueryLines(context.Background(), LineQuery{MinFreq: 5, MaxFreq: 5})
	require.Error(t, err)
}

func TestParseExportRejectsHTML(t *testing.T) {
	_, err := parseExport("<html><body>blocked</body></html>")
	require.Error(t, err)
	require.Contains(t, err.Error(), "web page")
}
