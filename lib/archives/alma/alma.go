// Package alma queries the ALMA science archive: observation metadata
// through its TAP obscore table, file listings through datalink, and
// authentication through the observatory's OpenID Connect provider.
package alma

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/adql"
	"skyquery/lib/coords"
	"skyquery/lib/oauth"
	"skyquery/lib/restyutil"
	"skyquery/lib/table"
	"skyquery/lib/tap"
	"skyquery/lib/telemetry"
	"skyquery/lib/votable"
)

var tracer = telemetry.Tracer("skyquery.lib.archives.alma")

const (
	defaultTAPURL      = "https://almascience.eso.org/tap"
	defaultDatalinkURL = "https://almascience.eso.org/datalink/sync"
)

const obscoreTable = "ivoa.obscore"

// DefaultAuthEndpoint is the Keycloak realm of the ALMA science
// archive.
var DefaultAuthEndpoint = oauth.Endpoint{
	TokenURL: "https://asa.alma.cl/auth/realms/ALMA/protocol/openid-connect/token",
	ClientID: "oidc-client",
}

type Options struct {
	TAPURL      string
	DatalinkURL string
	Auth        oauth.Endpoint
	UserAgent   string
	Timeout     time.Duration
}

type Client struct {
	tap  *tap.Client
	http *resty.Client
	auth *oauth.Client
	opts Options
}

func NewClient(opts Options) (*Client, error) {
	if opts.TAPURL == "" {
		opts.TAPURL = defaultTAPURL
	}
	if opts.DatalinkURL == "" {
		opts.DatalinkURL = defaultDatalinkURL
	}
	if opts.Auth == (oauth.Endpoint{}) {
		opts.Auth = DefaultAuthEndpoint
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

	telemetry.InstrumentResty(client, "skyquery.lib.archives.alma.http")

	return &Client{
		tap:  tapClient,
		http: client,
		auth: oauth.NewClient(client, opts.Auth),
		opts: opts,
	}, nil
}

// TAP exposes the underlying client for raw job management.
func (c *Client) TAP() *tap.Client {
	return c.tap
}

// Login obtains a bearer token from the archive's identity provider and
// installs it on every later request.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	token, err := c.auth.PasswordGrant(ctx, username, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return err
	}
	c.tap.SetAuthToken(token.AccessToken)
	c.http.SetAuthToken(token.AccessToken)

	slog.InfoContext(ctx, "logged in to alma", "user", username)
	return nil
}

// Logout drops the bearer token. The identity provider session expires
// on its own.
func (c *Client) Logout() {
	c.tap.SetAuthToken("")
	c.http.SetAuthToken("")
}

func (c *Client) tableResult(ctx context.Context, res votable.Result) *table.Table {
	if res.Truncated {
		slog.WarnContext(ctx, "alma truncated the result, refine the query or raise MAXREC")
	}
	return res.Table
}

// QueryObject lists the observations of a named target, matched against
// the exact target name the PI gave it.
func (c *Client) QueryObject(ctx context.Context, name string) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryObject")
	defer span.End()
	span.SetAttributes(attribute.String("target", name))

	query := fmt.Sprintf(
		"SELECT * FROM %s WHERE target_name = %s",
		obscoreTable, adql.QuoteString(name),
	)
	res, err := c.tap.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.tableResult(ctx, res), nil
}

// QueryRegion lists the observations whose footprint center falls
// inside the cone.
func (c *Client) QueryRegion(ctx context.Context, center coords.SkyCoord, radius coords.Angle) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryRegion")
	defer span.End()
	span.SetAttributes(
		attribute.String("center", center.String()),
		attribute.String("radius", radius.String()),
	)

	cone := adql.ConeSearch{
		Table:     obscoreTable,
		RAColumn:  "s_ra",
		DecColumn: "s_dec",
		Center:    center,
		Radius:    radius,
	}
	res, err := c.tap.Query(ctx, cone.Build())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.tableResult(ctx, res), nil
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

// DataInfo lists the files behind a member observation unit set id
// (uid://...), with their access urls and sizes.
func (c *Client) DataInfo(ctx context.Context, uid string) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "DataInfo")
	defer span.End()
	span.SetAttributes(attribute.String("uid", uid))

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ID", uid).
		Get(c.opts.DatalinkURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "datalink request failed")
		return nil, err
	}

	result, perr := votable.Parse(bytes.NewReader(res.Body()))
	if perr == nil {
		return result.Table, nil
	}
	var qerr votable.QueryError
	if errors.As(perr, &qerr) {
		span.RecordError(qerr)
		span.SetStatus(codes.Error, "datalink rejected the id")
		return nil, qerr
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		span.RecordError(serr)
		return nil, serr
	}
	return nil, perr
}
