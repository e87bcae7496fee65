package coords

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Angle is an angular size in decimal degrees.
type Angle float64

func (a Angle) Degrees() float64 {
	return float64(a)
}

func (a Angle) Arcmin() float64 {
	return float64(a) * 60
}

func (a Angle) Arcsec() float64 {
	return float64(a) * 3600
}

func (a Angle) String() string {
	return strconv.FormatFloat(float64(a), 'g', -1, 64) + "deg"
}

// ParseAngle reads an angle with an optional unit suffix. A bare
// number means degrees.
//
//	"0.5"  "0.5deg"  "30arcmin"  "12arcsec"  "0.01rad"
func ParseAngle(s string) (Angle, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	scale := 1.0
	switch {
	case strings.HasSuffix(s, "arcmin"):
		s = strings.TrimSuffix(s, "arcmin")
		scale = 1.0 / 60
	case strings.HasSuffix(s, "arcsec"):
		s = strings.TrimSuffix(s, "arcsec")
		scale = 1.0 / 3600
	case strings.HasSuffix(s, "rad"):
		s = strings.TrimSuffix(s, "rad")
		scale = 180 / math.Pi
	case strings.HasSuffix(s, "deg"):
		s = strings.TrimSuffix(s, "deg")
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid angle %q", s)
	}
	return Angle(v * scale), nil
}
