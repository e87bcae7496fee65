package coords

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SkyCoord is an ICRS position in decimal degrees.
type SkyCoord struct {
	RA  float64
	Dec float64
}

func New(ra, dec float64) (SkyCoord, error) {
	if dec < -90 || dec > 90 {
		return SkyCoord{}, fmt.Errorf("declination %v out of range [-90, 90]", dec)
	}
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return SkyCoord{RA: ra, Dec: dec}, nil
}

func (c SkyCoord) String() string {
	return fmt.Sprintf("%.6f %+.6f", c.RA, c.Dec)
}

// Parse reads a position in any of the common archive spellings:
//
//	"10.68 +41.26"             decimal degrees
//	"10.68, 41.26"             decimal degrees
//	"00:42:44.3 +41:16:09"     sexagesimal, RA in hours
//	"00 42 44.3 +41 16 09"     sexagesimal, RA in hours
//
// A sexagesimal right ascension is interpreted as hours, a decimal one
// as degrees.
func Parse(s string) (SkyCoord, error) {
	s = strings.TrimSpace(s)

	var left, right string
	if comma := strings.Index(s, ","); comma >= 0 {
		left = strings.TrimSpace(s[:comma])
		right = strings.TrimSpace(s[comma+1:])
	} else {
		fields := strings.Fields(s)
		switch len(fields) {
		case 2:
			left, right = fields[0], fields[1]
		case 6:
			left = strings.Join(fields[:3], ":")
			right = strings.Join(fields[3:], ":")
		default:
			return SkyCoord{}, fmt.Errorf("cannot split %q into two coordinates", s)
		}
	}

	ra, raSexagesimal, err := parsePart(left)
	if err != nil {
		return SkyCoord{}, fmt.Errorf("right ascension: %w", err)
	}
	if raSexagesimal {
		ra *= 15 // hours to degrees
	}
	dec, _, err := parsePart(right)
	if err != nil {
		return SkyCoord{}, fmt.Errorf("declination: %w", err)
	}

	return New(ra, dec)
}

// parsePart parses one coordinate, either a plain float or a
// colon/space separated sexagesimal triple.
func parsePart(s string) (value float64, sexagesimal bool, err error) {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, ": ") {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid coordinate %q", s)
		}
		return v, false, nil
	}

	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ' '
	})
	if len(parts) != 3 {
		return 0, false, fmt.Errorf("expected 3 sexagesimal components in %q", s)
	}

	negative := strings.HasPrefix(parts[0], "-")
	first, err := strconv.ParseFloat(strings.TrimPrefix(parts[0], "+"), 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid coordinate %q", s)
	}
	minutes, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid coordinate %q", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid coordinate %q", s)
	}
	if minutes < 0 || minutes >= 60 || seconds < 0 || seconds >= 60 {
		return 0, false, fmt.Errorf("minutes/seconds out of range in %q", s)
	}

	v := math.Abs(first) + minutes/60 + seconds/3600
	if negative {
		v = -v
	}
	return v, true, nil
}

// RAHours renders the right ascension as sexagesimal hours, the form
// most archives print. Rounding happens on the centisecond so a carry
// never produces a 60 in the seconds field.
func (c SkyCoord) RAHours() string {
	n := int64(math.Round(c.RA / 15 * 3600 * 100))
	cs := n % 6000
	n /= 6000
	mm := n % 60
	hh := (n / 60) % 24
	return fmt.Sprintf("%02d:%02d:%05.2f", hh, mm, float64(cs)/100)
}

// DecDMS renders the declination as signed sexagesimal degrees.
func (c SkyCoord) DecDMS() string {
	sign := "+"
	dec := c.Dec
	if dec < 0 {
		sign = "-"
		dec = -dec
	}
	n := int64(math.Round(dec * 3600 * 10))
	ds := n % 600
	n /= 600
	mm := n % 60
	dd := n / 60
	return fmt.Sprintf("%s%02d:%02d:%04.1f", sign, dd, mm, float64(ds)/10)
}

// Separation computes the great-circle distance between two positions
// with the haversine formula, which stays stable at small angles.
func Separation(a, b SkyCoord) Angle {
	ra1 := a.RA * math.Pi / 180
	dec1 := a.Dec * math.Pi / 180
	ra2 := b.RA * math.Pi / 180
	dec2 := b.Dec * math.Pi / 180

	sinDec := math.Sin((dec2 - dec1) / 2)
	sinRA := math.Sin((ra2 - ra1) / 2)
	h := sinDec*sinDec + math.Cos(dec1)*math.Cos(dec2)*sinRA*sinRA
	d := 2 * math.Asin(math.Min(1, math.Sqrt(h)))

	return Angle(d * 180 / math.Pi)
}
