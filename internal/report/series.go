package report

import "github.com/biomass-watch/biomass-api/pkg/models"

// ForecastYears is how many years past the last observation are projected.
const ForecastYears = 3

// Point is one year of the biomass series.
type Point struct {
	Year         int     `json:"year"`
	Biomass      float64 `json:"biomass"`
	Carbon       float64 `json:"carbon"`
	CO2          float64 `json:"co2"`
	Interpolated bool    `json:"interpolated,omitempty"`
}

// Means are the per-series averages over the gap-filled years.
type Means struct {
	Biomass float64 `json:"biomass"`
	Carbon  float64 `json:"carbon"`
	CO2     float64 `json:"co2"`
}

// FillGaps turns stored rows (ascending by year, one per year) into a
// contiguous series. Each missing year is first seeded with the mean of the
// observations around its gap, then refined in ascending order to the mean
// of its two neighbours, so a filled year feeds the one after it.
func FillGaps(stats []*models.YearlyStat) []Point {
	if len(stats) == 0 {
		return []Point{}
	}

	first, last := stats[0].Year, stats[len(stats)-1].Year
	points := make([]Point, last-first+1)
	known := make([]bool, len(points))
	for _, s := range stats {
		i := s.Year - first
		points[i] = Point{
			Year:    s.Year,
			Biomass: s.MeanBiomass,
			Carbon:  s.MeanCarbon,
			CO2:     models.CO2(s.MeanCarbon),
		}
		known[i] = true
	}

	prev := 0
	for i := range points {
		if known[i] {
			prev = i
			continue
		}
		next := i + 1
		for !known[next] {
			next++
		}
		points[i] = midpoint(first+i, points[prev], points[next])
	}

	for i := range points {
		if !known[i] {
			points[i] = midpoint(first+i, points[i-1], points[i+1])
		}
	}
	return points
}

func midpoint(year int, a, b Point) Point {
	return Point{
		Year:         year,
		Biomass:      (a.Biomass + b.Biomass) / 2,
		Carbon:       (a.Carbon + b.Carbon) / 2,
		CO2:          (a.CO2 + b.CO2) / 2,
		Interpolated: true,
	}
}

// MeanOf averages each series. An empty series has zero means.
func MeanOf(points []Point) Means {
	var m Means
	if len(points) == 0 {
		return m
	}
	for _, p := range points {
		m.Biomass += p.Biomass
		m.Carbon += p.Carbon
		m.CO2 += p.CO2
	}
	n := float64(len(points))
	return Means{Biomass: m.Biomass / n, Carbon: m.Carbon / n, CO2: m.CO2 / n}
}

// Forecast fits an ordinary least-squares line to biomass by year and
// projects it over the ForecastYears following the last point. Carbon and
// CO2 are derived from the projected biomass. A single point projects flat.
func Forecast(points []Point) []Point {
	if len(points) == 0 {
		return []Point{}
	}

	var meanX, meanY float64
	for _, p := range points {
		meanX += float64(p.Year)
		meanY += p.Biomass
	}
	n := float64(len(points))
	meanX /= n
	meanY /= n

	var sxy, sxx float64
	for _, p := range points {
		dx := float64(p.Year) - meanX
		sxy += dx * (p.Biomass - meanY)
		sxx += dx * dx
	}
	var slope float64
	if sxx > 0 {
		slope = sxy / sxx
	}

	last := points[len(points)-1].Year
	out := make([]Point, ForecastYears)
	for i := range out {
		year := last + i + 1
		biomass := meanY + slope*(float64(year)-meanX)
		carbon := models.Carbon(biomass)
		out[i] = Point{Year: year, Biomass: biomass, Carbon: carbon, CO2: models.CO2(carbon)}
	}
	return out
}
