// Package ads queries the SAO/NASA Astrophysics Data System literature
// search API. Every call needs a personal API token, taken from the
// options or the SKYQUERY_ADS_TOKEN environment variable.
package ads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/restyutil"
	"skyquery/lib/table"
	"skyquery/lib/telemetry"
)

var tracer = telemetry.Tracer("skyquery.lib.archives.ads")

const defaultBaseURL = "https://api.adsabs.harvard.edu/v1"

// TokenEnvVar names the environment variable consulted when no token is
// set in the options.
const TokenEnvVar = "SKYQUERY_ADS_TOKEN"

var defaultFields = []string{"bibcode", "title", "author", "year", "citation_count"}

type Options struct {
	BaseURL   string
	Token     string
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
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.Token == "" {
		opts.Token = os.Getenv(TokenEnvVar)
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
	client.SetAuthToken(opts.Token)

	telemetry.InstrumentResty(client, "skyquery.lib.archives.ads.http")

	return &Client{http: client, opts: opts}, nil
}

type searchParams struct {
	fields []string
	rows   int
	start  int
	sort   string
}

type SearchOption func(*searchParams)

// WithFields picks the document fields to return, in column order.
func WithFields(fields ...string) SearchOption {
	return func(p *searchParams) { p.fields = fields }
}

// WithRows caps the number of documents returned, 50 by default.
func WithRows(n int) SearchOption {
	return func(p *searchParams) { p.rows = n }
}

// WithStart skips into the result set for paging.
func WithStart(n int) SearchOption {
	return func(p *searchParams) { p.start = n }
}

// WithSort orders results, e.g. "citation_count desc".
func WithSort(sort string) SearchOption {
	return func(p *searchParams) { p.sort = sort }
}

type searchResponse struct {
	Response struct {
		NumFound int              `json:"numFound"`
		Docs     []map[string]any `json:"docs"`
	} `json:"response"`
}

// Search runs an ADS query ("author:huchra 1983", "object:M31", full
// lucene syntax) and returns the matching documents as a table, one
// column per requested field. List-valued fields are joined with "; "
// and fields absent from a document become nulls.
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()
	span.SetAttributes(attribute.String("query", query))

	params := searchParams{fields: defaultFields, rows: 50}
	for _, opt := range opts {
		opt(&params)
	}

	queryValues := map[string]string{
		"q":    query,
		"fl":   strings.Join(params.fields, ","),
		"rows": strconv.Itoa(params.rows),
	}
	if params.start > 0 {
		queryValues["start"] = strconv.Itoa(params.start)
	}
	if params.sort != "" {
		queryValues["sort"] = params.sort
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(queryValues).
		Get(c.opts.BaseURL + "/search/query")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search request failed")
		return nil, err
	}
	if serr := c.checkStatus(res); serr != nil {
		span.RecordError(serr)
		return nil, serr
	}

	var body searchResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	span.SetAttributes(attribute.Int("num_found", body.Response.NumFound))
	return docsToTable(params.fields, body.Response.Docs)
}

// the 429 from ADS carries the reset time of the daily quota, worth
// surfacing to the caller
func (c *Client) checkStatus(res *resty.Response) error {
	err := restyutil.CheckStatus(res)
	if err == nil {
		return nil
	}
	if errors.Is(err, restyutil.ErrRateLimited) {
		reset := res.Header().Get("X-RateLimit-Reset")
		if reset != "" {
			return fmt.Errorf("%w, quota resets at %s", err, reset)
		}
	}
	return err
}

type exportRequest struct {
	Bibcode []string `json:"bibcode"`
}

type exportResponse struct {
	Msg    string `json:"msg"`
	Export string `json:"export"`
}

// ExportBibTeX renders the given bibcodes as a BibTeX document.
func (c *Client) ExportBibTeX(ctx context.Context, bibcodes []string) (string, error) {
	ctx, span := tracer.Start(ctx, "ExportBibTeX")
	defer span.End()
	span.SetAttributes(attribute.Int("bibcodes", len(bibcodes)))

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(exportRequest{Bibcode: bibcodes}).
		Post(c.opts.BaseURL + "/export/bibtex")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export request failed")
		return "", err
	}
	if serr := c.checkStatus(res); serr != nil {
		span.RecordError(serr)
		return "", serr
	}

	var body exportResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return "", fmt.Errorf("decode export response: %w", err)
	}
	return body.Export, nil
}

func fieldType(field string, docs []map[string]any) table.DType {
	sawNumber := false
	sawFloat := false
	sawBool := false
	for _, doc := range docs {
		switch v := doc[field].(type) {
		case nil:
		case float64:
			sawNumber = true
			if v != math.Trunc(v) {
				sawFloat = true
			}
		case bool:
			sawBool = true
		default:
			return table.String
		}
	}
	switch {
	case sawNumber && sawBool:
		return table.String
	case sawFloat:
		return table.Float
	case sawNumber:
		return table.Int
	case sawBool:
		return table.Bool
	}
	return table.String
}

func docsToTable(fields []string, docs []map[string]any) (*table.Table, error) {
	metas := make([]table.ColumnMeta, len(fields))
	for i, field := range fields {
		metas[i] = table.ColumnMeta{Name: field, DType: fieldType(field, docs)}
	}
	tbl := table.New(metas...)

	for _, doc := range docs {
		row := make([]any, len(fields))
		for i, field := range fields {
			value, ok := doc[field]
			if !ok || value == nil {
				continue
			}
			switch v := value.(type) {
			case string:
				row[i] = v
			case float64:
				switch metas[i].DType {
				case table.Int:
					row[i] = int64(v)
				case table.Float:
					row[i] = v
				default:
					row[i] = strconv.FormatFloat(v, 'g', -1, 64)
				}
			case bool:
				if metas[i].DType == table.Bool {
					row[i] = v
				} else {
					row[i] = strconv.FormatBool(v)
				}
			case []any:
				parts := make([]string, len(v))
				for j, item := range v {
					parts[j] = fmt.Sprint(item)
				}
				row[i] = strings.Join(parts, "; ")
			default:
				row[i] = fmt.Sprint(v)
			}
		}
		err := tbl.AppendRow(row...)
		if err != nil {
			return nil, err
		}
	}
	return tbl, nil
}
