// Package esahubble queries the ESA Hubble science archive: TAP queries
// on the ehst.archive view and product downloads through the data
// servlet next to it.
package esahubble

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strconv"
	"strings"
	"time"

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

var tracer = telemetry.Tracer("skyquery.lib.archives.esahubble")

const defaultServerURL = "https://hst.esac.esa.int/tap-server"

const archiveTable = "ehst.archive"

// defaultLimit caps cone and criteria searches, the view joins most of
// the archive and unbounded selects time out server side.
const defaultLimit = 2000

var defaultColumns = []string{
	"observation_id", "target_name", "ra", "dec", "instrument_name",
	"filter", "collection", "start_time", "exposure_duration",
	"calibration_level",
}

// Calibration levels of the download servlet.
const (
	LevelRaw        = "RAW"
	LevelCalibrated = "CALIBRATED"
	LevelProduct    = "PRODUCT"
	LevelAuxiliary  = "AUXILIARY"
)

type Options struct {
	// ServerURL is the tap-server root; /tap, /login, /logout and /data
	// all hang off it.
	ServerURL string
	UserAgent string
	Timeout   time.Duration
}

type Client struct {
	tap     *tap.Client
	dataURL string
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
	return &Client{tap: tapClient, dataURL: opts.ServerURL + "/data"}, nil
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

type searchParams struct {
	columns []string
	limit   int
}

type SearchOption func(*searchParams)

// WithColumns overrides the default column selection.
func WithColumns(columns ...string) SearchOption {
	return func(p *searchParams) { p.columns = columns }
}

// WithLimit overrides the row cap.
func WithLimit(n int) SearchOption {
	return func(p *searchParams) { p.limit = n }
}

func applySearchOptions(opts []SearchOption) searchParams {
	params := searchParams{columns: defaultColumns, limit: defaultLimit}
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

func (c *Client) tableResult(ctx context.Context, res votable.Result) *table.Table {
	if res.Truncated {
		slog.WarnContext(ctx, "esa hubble truncated the result, refine the query or raise the limit")
	}
	return res.Table
}

// ConeSearch lists the observations within radius of center.
func (c *Client) ConeSearch(ctx context.Context, center coords.SkyCoord, radius coords.Angle, opts ...SearchOption) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "ConeSearch")
	defer span.End()
	span.SetAttributes(
		attribute.String("center", center.String()),
		attribute.String("radius", radius.String()),
	)

	params := applySearchOptions(opts)
	cone := adql.ConeSearch{
		Table:     archiveTable,
		RAColumn:  "ra",
		DecColumn: "dec",
		Center:    center,
		Radius:    radius,
		Columns:   params.columns,
		Top:       params.limit,
	}
	res, err := c.tap.Query(ctx, cone.Build())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.tableResult(ctx, res), nil
}

// QueryTarget lists the observations whose target name contains the
// fragment, case insensitively. ESA TAP accepts ILIKE.
func (c *Client) QueryTarget(ctx context.Context, name string, opts ...SearchOption) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryTarget")
	defer span.End()
	span.SetAttributes(attribute.String("target", name))

	params := applySearchOptions(opts)
	query := fmt.Sprintf(
		"SELECT TOP %d %s FROM %s WHERE target_name ILIKE %s",
		params.limit,
		strings.Join(params.columns, ", "),
		archiveTable,
		adql.QuoteString("%"+name+"%"),
	)
	res, err := c.tap.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.tableResult(ctx, res), nil
}

// Criteria narrows an archive search. Zero fields are left out of the
// query; at least one must be set.
type Criteria struct {
	Instrument string
	// Filters matches any of the named filters or gratings.
	Filters []string
	// MinCalibrationLevel keeps observations calibrated at least this
	// far, 1 raw through 3 product.
	MinCalibrationLevel int
	Collection          string
	ProposalID          int
}

func (cr Criteria) where() ([]string, error) {
	var parts []string
	if cr.Instrument != "" {
		parts = append(parts, "instrument_name = "+adql.QuoteString(cr.Instrument))
	}
	if len(cr.Filters) > 0 {
		quoted := make([]string, len(cr.Filters))
		for i, f := range cr.Filters {
			quoted[i] = adql.QuoteString(f)
		}
		parts = append(parts, "filter IN ("+strings.Join(quoted, ", ")+")")
	}
	if cr.MinCalibrationLevel > 0 {
		parts = append(parts, "calibration_level >= "+strconv.Itoa(cr.MinCalibrationLevel))
	}
	if cr.Collection != "" {
		parts = append(parts, "collection = "+adql.QuoteString(cr.Collection))
	}
	if cr.ProposalID > 0 {
		parts = append(parts, "proposal_id = "+strconv.Itoa(cr.ProposalID))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty criteria")
	}
	return parts, nil
}

// QueryCriteria lists the observations matching every set criterion.
func (c *Client) QueryCriteria(ctx context.Context, criteria Criteria, opts ...SearchOption) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryCriteria")
	defer span.End()

	parts, err := criteria.where()
	if err != nil {
		return nil, err
	}

	params := applySearchOptions(opts)
	query := fmt.Sprintf(
		"SELECT TOP %d %s FROM %s WHERE %s",
		params.limit,
		strings.Join(params.columns, ", "),
		archiveTable,
		strings.Join(parts, " AND "),
	)
	res, err := c.tap.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.tableResult(ctx, res), nil
}

func (c *Client) download(ctx context.Context, params map[string]string, fallback string, w io.Writer) (string, error) {
	res, err := c.tap.Session().R().
		SetContext(ctx).
		SetQueryParams(params).
		SetDoNotParseResponse(true).
		Get(c.dataURL)
	if err != nil {
		return "", err
	}
	body := res.RawBody()
	defer body.Close()

	if serr := restyutil.CheckStatus(res); serr != nil {
		return "", serr
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return "", fmt.Errorf("stream product: %w", err)
	}

	name := fallback
	if _, mparams, err := mime.ParseMediaType(res.Header().Get("Content-Disposition")); err == nil && mparams["filename"] != "" {
		name = mparams["filename"]
	}
	slog.InfoContext(ctx, "downloaded product", "name", name, "bytes", n)
	return name, nil
}

// DownloadProduct streams the files of an observation into w as the
// archive packs them (a tar bundle). It returns the server-chosen file
// name. calLevel narrows to one calibration level, "" takes everything.
// Large bundles need a raised Options.Timeout.
func (c *Client) DownloadProduct(ctx context.Context, obsID, calLevel string, w io.Writer) (string, error) {
	ctx, span := tracer.Start(ctx, "DownloadProduct")
	defer span.End()
	span.SetAttributes(
		attribute.String("observation", obsID),
		attribute.String("level", calLevel),
	)

	params := map[string]string{
		"RETRIEVAL_TYPE": "OBSERVATION",
		"OBSERVATION_ID": obsID,
	}
	if calLevel != "" {
		params["CALIBRATION_LEVEL"] = calLevel
	}
	name, err := c.download(ctx, params, obsID+".tar", w)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		return "", err
	}
	return name, nil
}

// Postcard streams the preview image of an observation into w.
func (c *Client) Postcard(ctx context.Context, obsID string, w io.Writer) (string, error) {
	ctx, span := tracer.Start(ctx, "Postcard")
	defer span.End()
	span.SetAttributes(attribute.String("observation", obsID))

	params := map[string]string{
		"RETRIEVAL_TYPE": "POSTCARD",
		"OBSERVATION_ID": obsID,
	}
	name, err := c.download(ctx, params, obsID+".jpg", w)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		return "", err
	}
	return name, nil
}
