// Package alfalfa serves the ALFALFA α.40 HI source catalog. The
// survey publishes one fixed CSV file rather than a query service, so
// region searches download the catalog once and crossmatch locally.
package alfalfa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/coords"
	"skyquery/lib/querycache"
	"skyquery/lib/restyutil"
	"skyquery/lib/table"
	"skyquery/lib/telemetry"
)

var tracer = telemetry.Tracer("skyquery.lib.archives.alfalfa")

const defaultCatalogURL = "http://egg.astro.cornell.edu/alfalfa/data/a40files/a40.datafile1.csv"

const catalogTTL = 7 * 24 * time.Hour

// ErrNoSource is returned by Nearest when no catalog entry falls inside
// the search radius.
var ErrNoSource = errors.New("no source within the search radius")

// catalog coordinate columns: HI line centroid, with the optical
// counterpart as fallback when the HI position is the 0.0 sentinel
const (
	raColHI  = "RAdeg_HI"
	decColHI = "Decdeg_HI"
	raColOC  = "RAdeg_OC"
	decColOC = "DECdeg_OC"
)

type Options struct {
	CatalogURL string
	UserAgent  string
	Timeout    time.Duration
	// Cache persists the downloaded catalog between runs. Nil means
	// every new client downloads it again.
	Cache *querycache.Cache
}

type Client struct {
	http *resty.Client
	opts Options

	mu      sync.Mutex
	catalog *table.Table
}

func NewClient(opts Options) (*Client, error) {
	if opts.CatalogURL == "" {
		opts.CatalogURL = defaultCatalogURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "skyquery/0.1"
	}

	client := resty.New()
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "skyquery.lib.archives.alfalfa.http")

	return &Client{http: client, opts: opts}, nil
}

func (c *Client) fetchCatalog(ctx context.Context) ([]byte, error) {
	key := querycache.Key("alfalfa", c.opts.CatalogURL)
	if c.opts.Cache != nil {
		payload, err := c.opts.Cache.Get(ctx, key)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, querycache.ErrMiss) {
			slog.WarnContext(ctx, "alfalfa catalog cache read failed", "err", err)
		}
	}

	res, err := c.http.R().SetContext(ctx).Get(c.opts.CatalogURL)
	if err != nil {
		return nil, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		return nil, serr
	}
	payload := res.Body()

	if c.opts.Cache != nil {
		err := c.opts.Cache.Set(ctx, key, payload, catalogTTL)
		if err != nil {
			slog.WarnContext(ctx, "alfalfa catalog cache write failed", "err", err)
		}
	}
	return payload, nil
}

// Catalog returns the full α.40 table, downloading it at most once per
// client (and once per cache TTL across runs when a cache is set).
func (c *Client) Catalog(ctx context.Context) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "Catalog")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalog != nil {
		return c.catalog, nil
	}

	payload, err := c.fetchCatalog(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog download failed")
		return nil, err
	}

	tbl, err := table.ReadDelim(bytes.NewReader(payload), ',')
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for _, name := range []string{raColHI, decColHI, raColOC, decColOC} {
		if tbl.Column(name) == nil {
			return nil, fmt.Errorf("catalog is missing column %s", name)
		}
	}

	span.SetAttributes(attribute.Int("rows", tbl.NumRows()))
	c.catalog = tbl
	return tbl, nil
}

func cellFloat(col *table.Column, i int) (float64, bool) {
	if col.IsNull(i) {
		return 0, false
	}
	switch v := col.Value(i).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// rowCoord picks the HI centroid position of a row, falling back to the
// optical counterpart when the HI position is missing or zeroed.
func rowCoord(tbl *table.Table, i int) (coords.SkyCoord, bool) {
	ra, raOk := cellFloat(tbl.Column(raColHI), i)
	dec, decOk := cellFloat(tbl.Column(decColHI), i)
	if !raOk || !decOk || ra == 0 {
		ra, raOk = cellFloat(tbl.Column(raColOC), i)
		dec, decOk = cellFloat(tbl.Column(decColOC), i)
		if !raOk || !decOk {
			return coords.SkyCoord{}, false
		}
	}
	coord, err := coords.New(ra, dec)
	if err != nil {
		return coords.SkyCoord{}, false
	}
	return coord, true
}

func subTable(src *table.Table) *table.Table {
	metas := make([]table.ColumnMeta, src.NumCols())
	for i := range metas {
		metas[i] = src.ColumnAt(i).Meta
	}
	return table.New(metas...)
}

// QueryRegion returns the catalog entries within radius of center.
func (c *Client) QueryRegion(ctx context.Context, center coords.SkyCoord, radius coords.Angle) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryRegion")
	defer span.End()
	span.SetAttributes(
		attribute.String("center", center.String()),
		attribute.String("radius", radius.String()),
	)

	cat, err := c.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	out := subTable(cat)
	for i := 0; i < cat.NumRows(); i++ {
		coord, ok := rowCoord(cat, i)
		if !ok {
			continue
		}
		if coords.Separation(center, coord).Degrees() <= radius.Degrees() {
			err := out.AppendRow(cat.Row(i)...)
			if err != nil {
				return nil, err
			}
		}
	}

	span.SetAttributes(attribute.Int("matches", out.NumRows()))
	return out, nil
}

// Nearest returns the single catalog entry closest to center within
// radius, with its angular separation.
func (c *Client) Nearest(ctx context.Context, center coords.SkyCoord, radius coords.Angle) (*table.Table, coords.Angle, error) {
	ctx, span := tracer.Start(ctx, "Nearest")
	defer span.End()

	cat, err := c.Catalog(ctx)
	if err != nil {
		return nil, 0, err
	}

	best := -1
	var bestSep coords.Angle
	for i := 0; i < cat.NumRows(); i++ {
		coord, ok := rowCoord(cat, i)
		if !ok {
			continue
		}
		sep := coords.Separation(center, coord)
		if sep.Degrees() > radius.Degrees() {
			continue
		}
		if best < 0 || sep.Degrees() < bestSep.Degrees() {
			best = i
			bestSep = sep
		}
	}
	if best < 0 {
		return nil, 0, fmt.Errorf("%w of %s around %s", ErrNoSource, radius, center)
	}

	out := subTable(cat)
	err = out.AppendRow(cat.Row(best)...)
	if err != nil {
		return nil, 0, err
	}
	return out, bestSep, nil
}
