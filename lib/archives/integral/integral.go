// Package integral queries ISLA, the INTEGRAL science legacy archive at
// ESAC, over TAP: source catalog lookups, observation searches and the
// per-source epoch listings.
package integral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"skyquery/lib/adql"
	"skyquery/lib/coords"
	"skyquery/lib/table"
	"skyquery/lib/tap"
	"skyquery/lib/telemetry"
	"skyquery/lib/votable"
)

var tracer = telemetry.Tracer("skyquery.lib.archives.integral")

const defaultServerURL = "https://isla.esac.esa.int/tap"

// ErrSourceNotFound means the catalog has no source matching the name.
var ErrSourceNotFound = errors.New("source not found")

// defaultObservationRadius matches the half-width of the IBIS partially
// coded field of view, the widest sensible cone for a pointed search.
const defaultObservationRadius = coords.Angle(14)

type Options struct {
	// ServerURL is the tap root; /tap, /login and /logout hang off it.
	ServerURL string
	UserAgent string
	Timeout   time.Duration
}

type Client struct {
	tap *tap.Client
}

func NewClient(opts Options) (*Client, error) {
	if opts.ServerURL == "" {
		opts.ServerURL = defaultServerURL
	}
	opts.ServerURL = strings.TrimSuffix(opts.ServerURL, "/")

	tapClient, err := tap.NewClient(tap.Options{
		BaseURL:   opts.ServerURL + "/tap",
		LoginURL:  opts.ServerURL + "/login",
		LogoutURL: opts.ServerURL + "/logout",
		UserAgent: opts.UserAgent,
		Timeout:   opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Client{tap: tapClient}, nil
}

// TAP exposes the underlying client for raw queries and job management.
func (c *Client) TAP() *tap.Client {
	return c.tap
}

// Login starts a session on the archive, for proprietary data.
func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.tap.Login(ctx, username, password)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.tap.Logout(ctx)
}

func sourceSubquery(name string) string {
	return "SELECT source_id FROM ila.v_cat_source WHERE name ILIKE " +
		adql.QuoteString("%"+name+"%")
}

// Sources lists the catalog sources whose name contains the fragment,
// case insensitively.
func (c *Client) Sources(ctx context.Context, name string) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "Sources")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))

	query := fmt.Sprintf(
		"SELECT * FROM ila.v_cat_source WHERE name ILIKE %s ORDER BY name",
		adql.QuoteString("%"+name+"%"),
	)
	res, err := c.tap.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res.Table, nil
}

// resolveSource turns a catalog name into a position, taking the first
// match.
func (c *Client) resolveSource(ctx context.Context, name string) (coords.SkyCoord, error) {
	tbl, err := c.Sources(ctx, name)
	if err != nil {
		return coords.SkyCoord{}, err
	}
	if tbl.NumRows() == 0 {
		return coords.SkyCoord{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	ra := tbl.Column("ra")
	dec := tbl.Column("dec")
	if ra == nil || dec == nil {
		return coords.SkyCoord{}, fmt.Errorf("source catalog misses ra or dec")
	}
	return coords.SkyCoord{RA: ra.Float(0), Dec: dec.Float(0)}, nil
}

// ObservationQuery narrows an observation search. Set Target or Center,
// the other fields are optional.
type ObservationQuery struct {
	// Target is a catalog source name, resolved to its position first.
	Target string
	Center *coords.SkyCoord
	// Radius defaults to the IBIS field of view.
	Radius coords.Angle

	// StartAfter/StartBefore bound the observation start time.
	StartAfter  time.Time
	StartBefore time.Time

	// RevnoMin/RevnoMax bound the spacecraft revolution number,
	// inclusive. Zero leaves the side open.
	RevnoMin int
	RevnoMax int
}

const obsTimeLayout = "2006-01-02T15:04:05"

// Observations searches ila.v_observation around a source or position.
func (c *Client) Observations(ctx context.Context, q ObservationQuery) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "Observations")
	defer span.End()

	if q.Target == "" && q.Center == nil {
		return nil, fmt.Errorf("observation query needs a Target or a Center")
	}
	if q.Target != "" && q.Center != nil {
		return nil, fmt.Errorf("observation query takes a Target or a Center, not both")
	}

	center := coords.SkyCoord{}
	if q.Center != nil {
		center = *q.Center
	} else {
		resolved, err := c.resolveSource(ctx, q.Target)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		center = resolved
	}
	radius := q.Radius
	if radius == 0 {
		radius = defaultObservationRadius
	}
	span.SetAttributes(
		attribute.String("center", center.String()),
		attribute.String("radius", radius.String()),
	)

	conditions := []string{fmt.Sprintf(
		"1=CONTAINS(POINT('ICRS',ra,dec),CIRCLE('ICRS',%s,%s,%s))",
		adql.FormatFloat(center.RA), adql.FormatFloat(center.Dec), adql.FormatFloat(radius.Degrees()),
	)}
	if !q.StartAfter.IsZero() {
		conditions = append(conditions,
			"start_date >= "+adql.QuoteString(q.StartAfter.UTC().Format(obsTimeLayout)))
	}
	if !q.StartBefore.IsZero() {
		conditions = append(conditions,
			"start_date <= "+adql.QuoteString(q.StartBefore.UTC().Format(obsTimeLayout)))
	}
	// revolution numbers live as zero padded strings in the archive
	if q.RevnoMin > 0 {
		conditions = append(conditions,
			"start_revno >= "+adql.QuoteString(fmt.Sprintf("%04d", q.RevnoMin)))
	}
	if q.RevnoMax > 0 {
		conditions = append(conditions,
			"end_revno <= "+adql.QuoteString(fmt.Sprintf("%04d", q.RevnoMax)))
	}

	query := fmt.Sprintf(
		"SELECT * FROM ila.v_observation WHERE %s ORDER BY start_date",
		strings.Join(conditions, " AND "),
	)
	res, err := c.tap.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res.Table, nil
}

// Epochs lists the distinct observation epochs of a source, optionally
// narrowed to one energy band (like "28_40").
func (c *Client) Epochs(ctx context.Context, target, band string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Epochs")
	defer span.End()
	span.SetAttributes(
		attribute.String("target", target),
		attribute.String("band", band),
	)

	query := fmt.Sprintf(
		"SELECT DISTINCT epoch FROM ila.epoch WHERE source_id IN (%s)",
		sourceSubquery(target),
	)
	if band != "" {
		query += " AND band = " + adql.QuoteString(band)
	}
	query += " ORDER BY epoch"

	res, err := c.tap.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	col := res.Table.Column("epoch")
	if col == nil {
		return nil, fmt.Errorf("epoch column missing from result")
	}
	epochs := make([]string, 0, res.Table.NumRows())
	for i := 0; i < res.Table.NumRows(); i++ {
		if col.IsNull(i) {
			continue
		}
		epochs = append(epochs, col.Str(i))
	}
	return epochs, nil
}

// QueryADQL runs a raw ADQL query on the sync endpoint.
func (c *Client) QueryADQL(ctx context.Context, query string, opts ...tap.QueryOption) (votable.Result, error) {
	return c.tap.Query(ctx, query, opts...)
}

// SubmitADQL starts a raw ADQL query as an async job. Manage it through
// TAP().
func (c *Client) SubmitADQL(ctx context.Context, query string, opts ...tap.QueryOption) (*tap.Job, error) {
	return c.tap.SubmitJob(ctx, query, opts...)
}
