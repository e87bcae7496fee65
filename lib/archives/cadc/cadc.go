// Package cadc queries the Canadian Astronomy Data Centre: the caom2
// observation archive over TAP, file urls through the caom2ops datalink
// service, and the CADC single sign-on cookie flow.
package cadc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/adql"
	"skyquery/lib/coords"
	"skyquery/lib/restyutil"
	"skyquery/lib/table"
	"skyquery/lib/tap"
	"skyquery/lib/telemetry"
	"skyquery/lib/votable"
)

var tracer = telemetry.Tracer("skyquery.lib.archives.cadc")

const (
	defaultTAPURL      = "https://ws.cadc-ccda.hia-iha.nrc-cnrc.gc.ca/argus"
	defaultLoginURL    = "https://ws-cadc.canfar.net/ac/login"
	defaultDatalinkURL = "https://ws.cadc-ccda.hia-iha.nrc-cnrc.gc.ca/caom2ops/datalink"
)

const ssoCookie = "CADC_SSO"

// every observation query selects from the plane/observation join
const fromClause = "caom2.Plane AS Plane JOIN caom2.Observation AS Observation " +
	"ON Plane.obsID = Observation.obsID"

type Options struct {
	TAPURL      string
	LoginURL    string
	DatalinkURL string
	UserAgent   string
	Timeout     time.Duration
}

type Client struct {
	tap  *tap.Client
	http *resty.Client
	opts Options
}

func NewClient(opts Options) (*Client, error) {
	if opts.TAPURL == "" {
		opts.TAPURL = defaultTAPURL
	}
	if opts.LoginURL == "" {
		opts.LoginURL = defaultLoginURL
	}
	if opts.DatalinkURL == "" {
		opts.DatalinkURL = defaultDatalinkURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "skyquery/0.1"
	}

	tapClient, err := tap.NewClient(tap.Options{
		BaseURL:   opts.TAPURL,
		UserAgent: opts.UserAgent,
		Timeout:   opts.Timeout,
	})
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "skyquery.lib.archives.cadc.http")

	return &Client{tap: tapClient, http: client, opts: opts}, nil
}

// TAP exposes the underlying client for raw queries and job management.
func (c *Client) TAP() *tap.Client {
	return c.tap
}

// Login exchanges the credentials for an SSO token. The login service
// answers with the bare token in the body; it rides as the CADC_SSO
// cookie on every later request, datalink included.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": username,
			"password": password,
		}).
		Post(c.opts.LoginURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		span.SetStatus(codes.Error, "login rejected")
		return serr
	}

	token := strings.TrimSpace(string(res.Body()))
	if token == "" {
		return fmt.Errorf("login service at %s returned an empty token", c.opts.LoginURL)
	}

	cookies := []*http.Cookie{{Name: ssoCookie, Value: token}}
	c.tap.SetCookies(cookies)
	c.http.SetCookies(cookies)

	slog.InfoContext(ctx, "logged in to cadc", "user", username)
	return nil
}

// Logout forgets the SSO token. The token stays valid server side until
// it expires.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.tap.Logout(ctx); err != nil {
		return err
	}
	c.http.Cookies = nil
	slog.InfoContext(ctx, "logged out of cadc")
	return nil
}

func (c *Client) tableResult(ctx context.Context, res votable.Result) *table.Table {
	if res.Truncated {
		slog.WarnContext(ctx, "cadc truncated the result, refine the query or raise MAXREC")
	}
	return res.Table
}

// QueryRegion lists the planes whose footprint intersects the cone,
// joined to their observations.
func (c *Client) QueryRegion(ctx context.Context, center coords.SkyCoord, radius coords.Angle) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryRegion")
	defer span.End()
	span.SetAttributes(
		attribute.String("center", center.String()),
		attribute.String("radius", radius.String()),
	)

	query := fmt.Sprintf(
		"SELECT * FROM %s WHERE INTERSECTS(CIRCLE('ICRS',%s,%s,%s), Plane.position_bounds) = 1",
		fromClause,
		adql.FormatFloat(center.RA), adql.FormatFloat(center.Dec), adql.FormatFloat(radius.Degrees()),
	)
	res, err := c.tap.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.tableResult(ctx, res), nil
}

// QueryName lists the observations whose target name contains the given
// fragment, case insensitively.
func (c *Client) QueryName(ctx context.Context, name string) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryName")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))

	pattern := adql.QuoteString("%" + strings.ToLower(name) + "%")
	query := fmt.Sprintf(
		"SELECT * FROM %s WHERE lower(Observation.target_name) LIKE %s",
		fromClause, pattern,
	)
	res, err := c.tap.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.tableResult(ctx, res), nil
}

// Collections lists the instrument and survey collections the archive
// holds, CFHT, HST, JCMT and the rest.
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Collections")
	defer span.End()

	res, err := c.tap.Query(ctx,
		"SELECT DISTINCT collection FROM caom2.Observation ORDER BY collection")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	col := res.Table.Column("collection")
	if col == nil {
		return nil, fmt.Errorf("collection column missing from result")
	}
	names := make([]string, 0, res.Table.NumRows())
	for i := 0; i < res.Table.NumRows(); i++ {
		if col.IsNull(i) {
			continue
		}
		names = append(names, col.Str(i))
	}
	return names, nil
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

// DataURLs resolves publisher ids (caom2 publisherID values) to the
// download urls of their science files. Previews and other auxiliary
// datalink rows are skipped.
func (c *Client) DataURLs(ctx context.Context, publisherIDs ...string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "DataURLs")
	defer span.End()
	span.SetAttributes(attribute.Int("ids", len(publisherIDs)))

	if len(publisherIDs) == 0 {
		return nil, fmt.Errorf("no publisher ids given")
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(url.Values{"ID": publisherIDs}).
		Get(c.opts.DatalinkURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "datalink request failed")
		return nil, err
	}

	result, perr := votable.Parse(bytes.NewReader(res.Body()))
	if perr != nil {
		var qerr votable.QueryError
		if errors.As(perr, &qerr) {
			span.RecordError(qerr)
			span.SetStatus(codes.Error, "datalink rejected the ids")
			return nil, qerr
		}
		if serr := restyutil.CheckStatus(res); serr != nil {
			span.RecordError(serr)
			return nil, serr
		}
		return nil, perr
	}

	tbl := result.Table
	semantics := tbl.Column("semantics")
	access := tbl.Column("access_url")
	if semantics == nil || access == nil {
		return nil, fmt.Errorf("datalink response misses semantics or access_url")
	}

	var urls []string
	for i := 0; i < tbl.NumRows(); i++ {
		if semantics.Str(i) != "#this" || access.IsNull(i) {
			continue
		}
		urls = append(urls, access.Str(i))
	}
	if len(urls) == 0 {
		slog.WarnContext(ctx, "datalink returned no science files", "ids", publisherIDs)
	}
	return urls, nil
}
