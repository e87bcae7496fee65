package timeutil

import "time"

// archives interpret bare timestamps as UTC, never the machine's local
// zone, so every epoch we format or parse goes through here
func Now() time.Time {
	return time.Now().UTC()
}

const unixEpochJD = 2440587.5

// JulianDate converts a time to the julian day number ephemeris
// services expect for epochs.
func JulianDate(t time.Time) float64 {
	return float64(t.UnixMilli())/86400000.0 + unixEpochJD
}

func FromJulianDate(jd float64) time.Time {
	ms := (jd - unixEpochJD) * 86400000.0
	return time.UnixMilli(int64(ms)).UTC()
}
