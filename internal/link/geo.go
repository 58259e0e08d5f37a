package link

import (
	"math"
	"sort"

	"welletl/internal/storage"
)

// EarthRadiusM is the mean Earth radius in meters.
const EarthRadiusM = 6371008.8

const rad = math.Pi / 180

// Haversine returns the great-circle distance in meters between two points
// given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := hav(dLat) + math.Cos(lat1*rad)*math.Cos(lat2*rad)*hav(dLon)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

func hav(x float64) float64 {
	s := math.Sin(x / 2)
	return s * s
}

// Score is max(0, 1-d/r), capped at 1. It is 1 for coincident points and 0
// at or beyond the radius.
func Score(distanceM, radiusM float64) float64 {
	if radiusM <= 0 {
		return 0
	}
	s := 1 - distanceM/radiusM
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// Pair is one candidate link.
type Pair struct {
	From     string
	To       string
	Distance float64
	Score    float64
}

// Pairs returns every (from, to) pair within radiusM meters, ordered by From
// then To.
//
// to is bucketed into a lat/lon grid whose cells are at least radiusM wide,
// so each from point only checks the nine cells around it. The longitude
// cell width is derived from the highest absolute latitude present, and
// cells wrap at the antimeridian. When the radius is too large for a grid
// to help, every pair is checked.
func Pairs(from, to []storage.Point, radiusM float64) []Pair {
	if radiusM <= 0 || len(from) == 0 || len(to) == 0 {
		return nil
	}
	g, ok := newGrid(from, to, radiusM)
	var out []Pair
	add := func(a, b storage.Point) {
		d := Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
		if d <= radiusM {
			out = append(out, Pair{From: a.ID, To: b.ID, Distance: d, Score: Score(d, radiusM)})
		}
	}

	if !ok {
		for _, a := range from {
			for _, b := range to {
				add(a, b)
			}
		}
	} else {
		for _, a := range from {
			i, j := g.cell(a)
			for di := -1; di <= 1; di++ {
				for dj := -1; dj <= 1; dj++ {
					for _, b := range g.cells[cellKey{i + di, g.wrap(j + dj)}] {
						add(a, b)
					}
				}
			}
		}
	}

	sort.Slice(out, func(x, y int) bool {
		if out[x].From != out[y].From {
			return out[x].From < out[y].From
		}
		return out[x].To < out[y].To
	})
	return out
}

type cellKey struct{ i, j int }

type grid struct {
	latStep float64
	lonStep float64
	lonN    int
	cells   map[cellKey][]storage.Point
}

// newGrid returns ok=false when fewer than three longitude cells fit, in
// which case neighbour lookups would visit the same cell twice.
func newGrid(from, to []storage.Point, radiusM float64) (*grid, bool) {
	theta := radiusM / EarthRadiusM * (1 + 1e-9)
	if theta >= math.Pi/2 {
		return nil, false
	}

	maxLat := 0.0
	for _, ps := range [][]storage.Point{from, to} {
		for _, p := range ps {
			maxLat = math.Max(maxLat, math.Abs(p.Lat))
		}
	}
	c := math.Cos(math.Min(90, maxLat) * rad)
	if c <= 0 {
		return nil, false
	}
	// hav(dLon) <= hav(theta) / (cos(lat1) cos(lat2)) for any pair within theta.
	sinHalf := math.Sin(theta/2) / c
	if sinHalf >= 1 {
		return nil, false
	}
	lonStep := 2 * math.Asin(sinHalf) / rad
	n := int(math.Floor(360 / lonStep))
	if n < 3 {
		return nil, false
	}

	g := &grid{
		latStep: theta / rad,
		lonStep: 360 / float64(n),
		lonN:    n,
		cells:   make(map[cellKey][]storage.Point, len(to)),
	}
	for _, p := range to {
		i, j := g.cell(p)
		k := cellKey{i, j}
		g.cells[k] = append(g.cells[k], p)
	}
	return g, true
}

func (g *grid) cell(p storage.Point) (int, int) {
	i := int(math.Floor(p.Lat / g.latStep))
	j := int(math.Floor((p.Lon + 180) / g.lonStep))
	return i, g.wrap(j)
}

func (g *grid) wrap(j int) int {
	j %= g.lonN
	if j < 0 {
		j += g.lonN
	}
	return j
}
