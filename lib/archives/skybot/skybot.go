// Package skybot resolves solar system objects crossing a sky field at
// a given epoch through the IMCCE SkyBoT cone search service.
package skybot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/coords"
	"skyquery/lib/restyutil"
	"skyquery/lib/table"
	"skyquery/lib/telemetry"
	"skyquery/lib/timeutil"
	"skyquery/lib/votable"
)

var tracer = telemetry.Tracer("skyquery.lib.archives.skybot")

const defaultBaseURL = "https://vo.imcce.fr/webservices/skybot/skybotconesearch_query.php"

// maxRadius is the widest cone the service accepts.
const maxRadius = coords.Angle(10)

type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

type Client struct {
	http *resty.Client
	opts Options
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "skyquery/0.1"
	}

	client := resty.New()
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "skyquery.lib.archives.skybot.http")

	return &Client{http: client, opts: opts}, nil
}

type coneParams struct {
	observer      string
	positionError float64
	objectFilter  string
}

type ConeOption func(*coneParams)

// WithObserver sets the IAU observatory code the ephemerides are
// computed for, geocenter ("500") by default.
func WithObserver(code string) ConeOption {
	return func(p *coneParams) { p.observer = code }
}

// WithPositionError sets the positional uncertainty filter in arcsec.
func WithPositionError(arcsec float64) ConeOption {
	return func(p *coneParams) { p.positionError = arcsec }
}

// WithObjectFilter restricts the object classes, encoded as the
// service's three digit flag string (asteroids, planets, comets).
func WithObjectFilter(flags string) ConeOption {
	return func(p *coneParams) { p.objectFilter = flags }
}

// ConeSearch lists the known solar system objects inside the cone at
// the given epoch. Radii beyond the service maximum of 10 degrees are
// clamped.
func (c *Client) ConeSearch(ctx context.Context, center coords.SkyCoord, radius coords.Angle, epoch time.Time, opts ...ConeOption) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "ConeSearch")
	defer span.End()
	span.SetAttributes(
		attribute.String("center", center.String()),
		attribute.String("radius", radius.String()),
		attribute.String("epoch", epoch.UTC().Format(time.RFC3339)),
	)

	params := coneParams{observer: "500", positionError: 120}
	for _, opt := range opts {
		opt(&params)
	}

	if radius > maxRadius {
		slog.WarnContext(ctx, "skybot radius clamped to service maximum",
			"requested", radius.String(), "max", maxRadius.String())
		radius = maxRadius
	}

	query := map[string]string{
		"-ra":     strconv.FormatFloat(center.RA, 'f', -1, 64),
		"-dec":    strconv.FormatFloat(center.Dec, 'f', -1, 64),
		"-rd":     strconv.FormatFloat(radius.Degrees(), 'f', -1, 64),
		"-ep":     strconv.FormatFloat(timeutil.JulianDate(epoch), 'f', -1, 64),
		"-loc":    params.observer,
		"-filter": strconv.FormatFloat(params.positionError, 'f', -1, 64),
		"-mime":   "votable",
		"-output": "object",
		"-refsys": "EQJ2000",
	}
	if params.objectFilter != "" {
		query["-objFilter"] = params.objectFilter
	}

	res, err := c.http.R().SetContext(ctx).SetQueryParams(query).Get(c.opts.BaseURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cone search failed")
		return nil, err
	}

	// failures come back as plain text starting with "!", votables with
	// an ERROR info, or a bare http error, roughly in that order of
	// likelihood
	body := res.Body()
	if line, found := bangError(body); found {
		err := fmt.Errorf("service error: %s", line)
		span.RecordError(err)
		span.SetStatus(codes.Error, "service rejected the request")
		return nil, err
	}

	result, perr := votable.Parse(bytes.NewReader(body))
	if perr == nil {
		span.SetAttributes(attribute.Int("objects", result.Table.NumRows()))
		return result.Table, nil
	}
	var qerr votable.QueryError
	if errors.As(perr, &qerr) {
		span.RecordError(qerr)
		span.SetStatus(codes.Error, "service rejected the request")
		return nil, qerr
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		span.RecordError(serr)
		return nil, serr
	}
	return nil, perr
}

// bangError extracts the message of a "! ..." plain text failure.
func bangError(body []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "!") {
		return "", false
	}
	line, _, _ := strings.Cut(trimmed, "\n")
	return strings.TrimSpace(strings.TrimPrefix(line, "!")), true
}
