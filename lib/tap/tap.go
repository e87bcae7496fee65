// Package tap implements the IVOA Table Access Protocol: synchronous
// and asynchronous ADQL queries, UWS job management and the cookie
// login convention shared by the ESA archives.
package tap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/restyutil"
	"skyquery/lib/table"
	"skyquery/lib/telemetry"
	"skyquery/lib/votable"
)

var tracer = telemetry.Tracer("skyquery.lib.tap")

// Options configures a client for one TAP service.
type Options struct {
	// BaseURL is the TAP root, the URL with sync/async under it.
	BaseURL string
	// LoginURL and LogoutURL enable the cookie login endpoints on
	// services that have them.
	LoginURL  string
	LogoutURL string
	UserAgent string
	// Timeout bounds a single http exchange, not a whole async job.
	Timeout time.Duration
}

type Client struct {
	http *resty.Client
	opts Options
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	baseUrl, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "skyquery/0.1"
	}

	hosts := []string{baseUrl.Hostname()}
	if opts.LoginURL != "" {
		loginUrl, err := url.Parse(opts.LoginURL)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, loginUrl.Hostname())
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(hosts...))
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "skyquery.lib.tap.http")

	return &Client{http: client, opts: opts}, nil
}

func (c *Client) endpoint(parts ...string) string {
	if len(parts) == 0 {
		return c.opts.BaseURL
	}
	return c.opts.BaseURL + "/" + strings.Join(parts, "/")
}

// Session exposes the underlying http client, for archive endpoints
// that sit next to the TAP service and share its login session, like
// the ESA data servlets.
func (c *Client) Session() *resty.Client {
	return c.http
}

type queryParams struct {
	format  string
	maxrec  int
	runID   string
	uploads map[string]*table.Table
}

type QueryOption func(*queryParams)

// WithFormat overrides the response FORMAT, votable by default.
func WithFormat(format string) QueryOption {
	return func(p *queryParams) { p.format = format }
}

// WithMaxRec asks the service to truncate the result after n rows.
func WithMaxRec(n int) QueryOption {
	return func(p *queryParams) { p.maxrec = n }
}

// WithRunID tags the job with a caller-chosen run id.
func WithRunID(id string) QueryOption {
	return func(p *queryParams) { p.runID = id }
}

// WithUpload sends tbl along with the query, queryable as
// TAP_UPLOAD.<name>.
func WithUpload(name string, tbl *table.Table) QueryOption {
	return func(p *queryParams) {
		if p.uploads == nil {
			p.uploads = map[string]*table.Table{}
		}
		p.uploads[name] = tbl
	}
}

func (c *Client) queryRequest(ctx context.Context, query string, params queryParams, extra map[string]string) (*resty.Request, error) {
	form := map[string]string{
		"REQUEST": "doQuery",
		"LANG":    "ADQL",
		"FORMAT":  "votable",
		"QUERY":   query,
	}
	if params.format != "" {
		form["FORMAT"] = params.format
	}
	if params.maxrec > 0 {
		form["MAXREC"] = strconv.Itoa(params.maxrec)
	}
	if params.runID != "" {
		form["RUNID"] = params.runID
	}
	for k, v := range extra {
		form[k] = v
	}

	req := c.http.R().SetContext(ctx)

	if len(params.uploads) == 0 {
		req.SetFormData(form)
		return req, nil
	}

	uploadSpecs := make([]string, 0, len(params.uploads))
	for name, tbl := range params.uploads {
		var buf bytes.Buffer
		err := votable.Write(&buf, tbl)
		if err != nil {
			return nil, fmt.Errorf("serialize upload %q: %w", name, err)
		}
		uploadSpecs = append(uploadSpecs, fmt.Sprintf("%s,param:%s", name, name))
		req.SetMultipartField(name, name+".xml", "application/x-votable+xml", bytes.NewReader(buf.Bytes()))
	}
	sort.Strings(uploadSpecs)
	form["UPLOAD"] = strings.Join(uploadSpecs, ";")
	req.SetMultipartFormData(form)
	return req, nil
}

// Query runs the query on the sync endpoint and parses the votable
// response.
func (c *Client) Query(ctx context.Context, query string, opts ...QueryOption) (votable.Result, error) {
	ctx, span := tracer.Start(ctx, "Query")
	defer span.End()

	var params queryParams
	for _, opt := range opts {
		opt(&params)
	}

	req, err := c.queryRequest(ctx, query, params, nil)
	if err != nil {
		span.RecordError(err)
		return votable.Result{}, err
	}
	res, err := req.Post(c.endpoint("sync"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync query failed")
		return votable.Result{}, err
	}

	// services report query failures as a votable with an ERROR info,
	// usually alongside a 400, so try parsing before the status check
	result, perr := votable.Parse(bytes.NewReader(res.Body()))
	if perr == nil {
		return result, nil
	}
	var qerr votable.QueryError
	if errors.As(perr, &qerr) {
		span.RecordError(qerr)
		span.SetStatus(codes.Error, "service rejected query")
		return votable.Result{}, qerr
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		span.RecordError(serr)
		return votable.Result{}, serr
	}
	return votable.Result{}, perr
}
