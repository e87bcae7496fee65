// Package splatalogue queries the Splatalogue spectral line compilation.
// The service has no machine API: the species list is scraped out of its
// query form and line searches go through the colon-delimited export
// endpoint. The site sits behind a CDN, so the client installs the
// cloudflare bypass transport.
package splatalogue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/htmlutil"
	"skyquery/lib/querycache"
	"skyquery/lib/restyutil"
	"skyquery/lib/table"
	"skyquery/lib/telemetry"
	"skyquery/lib/textutil"
)

var tracer = telemetry.Tracer("skyquery.lib.archives.splatalogue")

const defaultBaseURL = "https://splatalogue.online"

const speciesTTL = 30 * 24 * time.Hour

// speciesMatchThreshold is the JaroWinkler similarity below which a
// species name is not considered a match.
const speciesMatchThreshold = 0.85

// LineLists enumerates the line catalogs the service aggregates.
var LineLists = []string{"Lovas", "SLAIM", "JPL", "CDMS", "ToyaMA", "OSU", "Recomb", "Lisa", "RFI"}

type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Cache persists the scraped species list between runs.
	Cache *querycache.Cache
}

type Client struct {
	http *resty.Client
	opts Options

	mu      sync.Mutex
	species []Species
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "skyquery.lib.archives.splatalogue.http")

	return &Client{http: client, opts: opts}, nil
}

// Species is one entry of the service's molecule list, e.g.
// {ID: "204", Name: "H2Ov=0 - Water"}.
type Species struct {
	ID   string
	Name string
}

func (c *Client) fetchFormPage(ctx context.Context) ([]byte, error) {
	pageURL := c.opts.BaseURL + "/b.php"
	key := querycache.Key("splatalogue", pageURL)
	if c.opts.Cache != nil {
		payload, err := c.opts.Cache.Get(ctx, key)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, querycache.ErrMiss) {
			slog.WarnContext(ctx, "splatalogue species cache read failed", "err", err)
		}
	}

	res, err := c.http.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return nil, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		return nil, serr
	}
	payload := res.Body()

	if c.opts.Cache != nil {
		err := c.opts.Cache.Set(ctx, key, payload, speciesTTL)
		if err != nil {
			slog.WarnContext(ctx, "splatalogue species cache write failed", "err", err)
		}
	}
	return payload, nil
}

// Species scrapes the molecule list out of the query form, at most once
// per client.
func (c *Client) Species(ctx context.Context) ([]Species, error) {
	ctx, span := tracer.Start(ctx, "Species")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.species != nil {
		return c.species, nil
	}

	page, err := c.fetchFormPage(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "form page download failed")
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse form page: %w", err)
	}

	options := htmlutil.GetOptions(ctx, doc.Find(`select[name='sid[]'] option`))
	var species []Species
	for _, opt := range options {
		// placeholder entries have no numeric id
		if _, err := strconv.Atoi(opt.Value); err != nil {
			continue
		}
		species = append(species, Species{ID: opt.Value, Name: opt.Label})
	}
	if len(species) == 0 {
		return nil, fmt.Errorf("no species list in the form page")
	}

	span.SetAttributes(attribute.Int("species", len(species)))
	c.species = species
	return species, nil
}

// scoreSpecies rates how well a species label matches the pattern. The
// label format is "formula - common name", and the best score over the
// whole label and its parts wins, so "water" finds both "H2Ov=0 -
// Water" and "HDO - Water, HDO".
func scoreSpecies(pattern, label string) (score float64, substring bool) {
	parts := append([]string{label}, strings.Split(label, " - ")...)
	for _, part := range parts {
		name := textutil.Fold(part)
		if name == "" {
			continue
		}
		if strings.Contains(name, pattern) {
			substring = true
		}
		if s := matchr.JaroWinkler(pattern, name, false); s > score {
			score = s
		}
	}
	return score, substring
}

// SpeciesIDs finds the species whose names match the pattern, exact
// substring matches first, then fuzzy matches in decreasing similarity.
func (c *Client) SpeciesIDs(ctx context.Context, pattern string) ([]Species, error) {
	ctx, span := tracer.Start(ctx, "SpeciesIDs")
	defer span.End()
	span.SetAttributes(attribute.String("pattern", pattern))

	all, err := c.Species(ctx)
	if err != nil {
		return nil, err
	}

	normalized := textutil.Fold(pattern)
	type match struct {
		species   Species
		score     float64
		substring bool
	}
	var matches []match
	for _, sp := range all {
		score, substring := scoreSpecies(normalized, sp.Name)
		if !substring && score < speciesMatchThreshold {
			continue
		}
		matches = append(matches, match{species: sp, score: score, substring: substring})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].substring != matches[j].substring {
			return matches[i].substring
		}
		return matches[i].score > matches[j].score
	})

	out := make([]Species, len(matches))
	for i, m := range matches {
		out[i] = m.species
	}
	span.SetAttributes(attribute.Int("matches", len(out)))
	return out, nil
}

// LineQuery describes a spectral line search.
type LineQuery struct {
	// MinFreq and MaxFreq bound the rest frequency in GHz.
	MinFreq float64
	MaxFreq float64
	// SpeciesIDs restricts the search to specific species.
	SpeciesIDs []string
	// ChemicalName filters by the free text chemical name field.
	ChemicalName string
	// EnergyMaxK caps the upper state energy in Kelvin, 0 for no cap.
	EnergyMaxK float64
	// LineLists picks the catalogs consulted, all of them when nil.
	LineLists []string
}

// QueryLines runs a line search through the export endpoint and parses
// the colon-delimited response.
func (c *Client) QueryLines(ctx context.Context, q LineQuery) (*table.Table, error) {
	ctx, span := tracer.Start(ctx, "QueryLines")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("min_freq", q.MinFreq),
		attribute.Float64("max_freq", q.MaxFreq),
	)

	if q.MaxFreq <= q.MinFreq {
		return nil, fmt.Errorf("frequency range %g-%g GHz is empty", q.MinFreq, q.MaxFreq)
	}

	form := url.Values{}
	form.Set("submitted", "1")
	form.Set("frequency_units", "GHz")
	form.Set("from", strconv.FormatFloat(q.MinFreq, 'f', -1, 64))
	form.Set("to", strconv.FormatFloat(q.MaxFreq, 'f', -1, 64))
	for _, id := range q.SpeciesIDs {
		form.Add("sid[]", id)
	}
	if q.ChemicalName != "" {
		form.Set("chemical_name", q.ChemicalName)
	}
	if q.EnergyMaxK > 0 {
		form.Set("energy_range_to", strconv.FormatFloat(q.EnergyMaxK, 'f', -1, 64))
		form.Set("energy_range_type", "eu_k")
	}
	lists := q.LineLists
	if len(lists) == 0 {
		lists = LineLists
	}
	for _, list := range lists {
		form.Add("display"+list, "display"+list)
	}
	form.Set("export_type", "current")
	form.Set("export_delimiter", "colon")
	form.Set("offset", "0")
	form.Set("range", "on")

	res, err := c.http.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(c.opts.BaseURL + "/c_export.php")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "line export failed")
		return nil, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		span.RecordError(serr)
		return nil, serr
	}

	tbl, err := parseExport(res.String())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("lines", tbl.NumRows()))
	return tbl, nil
}

// parseExport reads the colon-delimited export text: blank lines and
// footer notes are dropped, everything else is a header or data row.
func parseExport(text string) (*table.Table, error) {
	if strings.HasPrefix(strings.TrimSpace(text), "<") {
		return nil, fmt.Errorf("export endpoint returned a web page instead of data")
	}

	var rows []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, ":") {
			continue
		}
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("export is empty")
	}
	return table.ReadDelim(strings.NewReader(strings.Join(rows, "\n")), ':')
}
