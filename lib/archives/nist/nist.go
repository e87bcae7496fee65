// Package nist queries the NIST Atomic Spectra Database for emission
// lines. The service is a cgi form that renders its ASCII table inside
// a <pre> block, so responses are scraped rather than parsed from a
// structured format.
package nist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/htmlutil"
	"skyquery/lib/restyutil"
	"skyquery/lib/table"
	"skyquery/lib/telemetry"
	"skyquery/lib/textutil"
)

var tracer = telemetry.Tracer("skyquery.lib.archives.nist")

const defaultBaseURL = "https://physics.nist.gov/cgi-bin/ASD/lines1.pl"

// ErrNoLines is returned when the database has no lines for the
// requested spectrum and wavelength range.
var ErrNoLines = errors.New("no lines available for the given parameters")

// Unit is a wavelength unit in the encoding the form expects.
type Unit int

const (
	Angstrom   Unit = 0
	Nanometer  Unit = 1
	Micrometer Unit = 2
)

func (u Unit) String() string {
	switch u {
	case Angstrom:
		return "Angstrom"
	case Nanometer:
		return "nm"
	case Micrometer:
		return "um"
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// WavelengthType selects the medium the tabulated wavelengths refer to.
type WavelengthType int

const (
	Vacuum       WavelengthType = 3
	VacuumAndAir WavelengthType = 4
)

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

	telemetry.InstrumentResty(client, "skyquery.lib.archives.nist.http")

	return &Client{http: client, opts: opts}, nil
}

type queryParams struct {
	unit           Unit
	wavelengthType WavelengthType
}

type QueryOption func(*queryParams)

// WithUnit sets the wavelength unit of the low/high bounds and the
// returned columns, Angstrom by default.
func WithUnit(u Unit) QueryOption {
	return func(p *queryParams) { p.unit = u }
}

// WithWavelengthType switches between vacuum and vacuum+air
// wavelengths.
func WithWavelengthType(t WavelengthType) QueryOption {
	return func(p *queryParams) { p.wavelengthType = t }
}

// QueryLines fetches the lines of a spectrum ("H I", "Fe II", "Na;Mg")
// between the low and high wavelength bounds.
func (c *Client) QueryLines(ctx context.Context, spectrum string, low, high float64, opts ...QueryOption) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryLines")
	defer span.End()
	span.SetAttributes(
		attribute.String("spectrum", spectrum),
		attribute.Float64("low", low),
		attribute.Float64("high", high),
	)

	params := queryParams{unit: Angstrom, wavelengthType: Vacuum}
	for _, opt := range opts {
		opt(&params)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"spectra":      spectrum,
			"low_w":        strconv.FormatFloat(low, 'f', -1, 64),
			"upp_w":        strconv.FormatFloat(high, 'f', -1, 64),
			"unit":         strconv.Itoa(int(params.unit)),
			"show_av":      strconv.Itoa(int(params.wavelengthType)),
			"format":       "1",
			"remove_js":    "on",
			"line_out":     "0",
			"en_unit":      "1",
			"output":       "0",
			"bibrefs":      "1",
			"page_size":    "15",
			"show_obs_wl":  "1",
			"show_calc_wl": "1",
			"order_out":    "0",
			"A_out":        "0",
			"intens_out":   "on",
			"allowed_out":  "1",
			"forbid_out":   "1",
			"conf_out":     "on",
			"term_out":     "on",
			"enrg_out":     "on",
			"J_out":        "on",
			"submit":       "Retrieve Data",
		}).
		Get(c.opts.BaseURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lines request failed")
		return nil, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		span.RecordError(serr)
		return nil, serr
	}

	// the phrase wraps differently depending on the requested range, so
	// match it whitespace insensitively.
	body := res.String()
	if textutil.ContainsFold(body, "No lines are available") {
		return nil, fmt.Errorf("%w: %s %g-%g %s", ErrNoLines, spectrum, low, high, params.unit)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse response page: %w", err)
	}
	pre := doc.Find("pre").First()
	if pre.Length() == 0 {
		return nil, fmt.Errorf("response page has no data block")
	}

	tbl, err := parseASCIITable(htmlutil.GetText(pre.Get(0)))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("lines", tbl.NumRows()))
	return tbl, nil
}

// isRuleLine matches the horizontal separators the form draws between
// the header and the data.
func isRuleLine(s string) bool {
	seen := false
	for _, r := range s {
		switch r {
		case '-', '=', '|', '+', ' ':
			seen = seen || r == '-' || r == '='
		default:
			return false
		}
	}
	return seen
}

// parseASCIITable reads the pipe separated text table out of the <pre>
// block: rule lines are dropped and the trailing delimiter every row
// carries is stripped, then the rest goes through the delimited reader.
func parseASCIITable(text string) (*table.Table, error) {
	var rows []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isRuleLine(line) {
			continue
		}
		line = strings.TrimSuffix(line, "|")
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data block is empty")
	}
	return table.ReadDelim(strings.NewReader(strings.Join(rows, "\n")), '|')
}
