package alfalfa

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"skyquery/lib/coords"
	"skyquery/lib/querycache"
	"skyquery/lib/testutil"
)

const catalogCSV = `AGCNr,Name,RAdeg_HI,Decdeg_HI,RAdeg_OC,DECdeg_OC,Vhelio,HIflux
1,A1,10.0000,41.0000,10.0010,41.0010,1102,1.23
2,A2,0.0000,0.0000,10.2000,41.1000,1430,2.10
3,A3,200.0000,-30.0000,200.0010,-30.0010,900,0.55
`

func newCatalogServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, catalogCSV)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryRegion(t *testing.T) {
	var hits atomic.Int64
	srv := newCatalogServer(t, &hits)

	client, err := NewClient(Options{CatalogURL: srv.URL})
	require.NoError(t, err)

	center, err := coords.New(10.05, 41.02)
	require.NoError(t, err)

	tbl, err := client.QueryRegion(context.Background(), center, coords.Angle(0.5))
	require.NoError(t, err)

	// A1 by its HI position, A2 through the optical fallback, A3 far away
	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, "A1", tbl.Column("Name").Str(0))
	require.Equal(t, "A2", tbl.Column("Name").Str(1))

	// the catalog is memoized per client
	_, err = client.QueryRegion(context.Background(), center, coords.Angle(0.1))
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())
}

func TestNearest(t *testing.T) {
	var hits atomic.Int64
	srv := newCatalogServer(t, &hits)

	client, err := NewClient(Options{CatalogURL: srv.URL})
	require.NoError(t, err)

	center, err := coords.New(10.05, 41.02)
	require.NoError(t, err)

	tbl, sep, err := client.Nearest(context.Background(), center, coords.Angle(0.5))
	require.NoError(t, err)
	require.Equal(t, 1, tbl.NumRows())
	require.Equal(t, "A1", tbl.Column("Name").Str(0))
	require.Less(t, sep.Degrees(), 0.1)

	_, _, err = client.Nearest(context.Background(), center, coords.Angle(0.001))
	require.ErrorIs(t, err, ErrNoSource)
}

func TestCatalogUsesCache(t *testing.T) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "alfalfa",
		DbSchema: querycache.Schema,
	})
	defer cleanup()
	cache := querycache.New(res.DB)

	var hits atomic.Int64
	srv := newCatalogServer(t, &hits)

	first, err := NewClient(Options{CatalogURL: srv.URL, Cache: &cache})
	require.NoError(t, err)
	_, err = first.Catalog(context.Background())
	require.NoError(t, err)

	// a second client with the same cache must not redownload
	second, err := NewClient(Options{CatalogURL: srv.URL, Cache: &cache})
	require.NoError(t, err)
	tbl, err := second.Catalog(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, tbl.NumRows())
	require.Equal(t, int64(1), hits.Load())
}
