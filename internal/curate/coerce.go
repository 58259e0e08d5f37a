package curate

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order. The first that parses wins.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"20060102",
}

// Bounds is a lat/lon box. The zero value accepts every coordinate.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// TexasBounds covers the state with a small margin.
func TexasBounds() Bounds {
	return Bounds{MinLat: 25, MaxLat: 37, MinLon: -107, MaxLon: -93}
}

func (b Bounds) IsZero() bool { return b == Bounds{} }

// Contains reports whether (lat, lon) lies inside b, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	if b.IsZero() {
		return true
	}
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// coerce converts a trimmed source value to the Go value bound for kind.
// Anything that does not parse becomes nil.
func coerce(kind Kind, s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	switch kind {
	case Text:
		return s
	case Int:
		if n, ok := toInt(s); ok {
			return n
		}
	case Float, Lat, Lon:
		if f, ok := toFloat(s); ok {
			return f
		}
	case Date:
		if d, ok := toDate(s); ok {
			return d
		}
	}
	return nil
}

func toFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toInt parses through float and truncates toward zero, so "120.7" is 120.
func toInt(s string) (int64, bool) {
	f, ok := toFloat(s)
	if !ok {
		return 0, false
	}
	t := math.Trunc(f)
	if t > math.MaxInt32 || t < math.MinInt32 {
		return 0, false
	}
	return int64(t), true
}

// toDate returns midnight UTC of the parsed calendar day.
func toDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
