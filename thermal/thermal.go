// Package thermal implements the outdoor-temperature-indexed curves (C5)
// that the HVAC task and its planner need to estimate power draw and run
// time. hvac.py fits these curves with a Bezier curve through points
// derived from six months of collected data; this repo expresses the same
// idea with an Akima spline (gonum/interp), which needs no external control
// points and handles a non-monotonic data set just as well.
package thermal

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// Point is one (outdoor temperature, statistic) sample used to fit a curve.
type Point struct {
	Temperature float64
	Value       float64
}

// curve wraps a fitted Akima spline with clamped extrapolation, mirroring
// HVACModel._power/_time's explicit clamp to the first/last node outside the
// fitted range.
type curve struct {
	fit      *interp.AkimaSpline
	min, max float64
	lo, hi   float64
}

func newCurve(points []Point) (*curve, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("thermal: need at least 2 points, got %d", len(points))
	}
	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Temperature < sorted[j].Temperature })

	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	for i, p := range sorted {
		xs[i] = p.Temperature
		ys[i] = p.Value
	}

	fit := new(interp.AkimaSpline)
	if err := fit.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("thermal: fit curve: %w", err)
	}
	return &curve{
		fit: fit,
		min: xs[0], max: xs[len(xs)-1],
		lo: ys[0], hi: ys[len(ys)-1],
	}, nil
}

func (c *curve) at(temperature float64) float64 {
	if temperature <= c.min {
		return c.lo
	}
	if temperature >= c.max {
		return c.hi
	}
	return c.fit.Predict(temperature)
}

// HVACModel estimates the HVAC system's power draw and the minutes needed
// to change the indoor temperature by one degree, both as a function of
// outdoor temperature (hvac.py HVACModel).
type HVACModel struct {
	power        *curve
	minutesPerDeg *curve
}

// NewHVACModel fits an HVACModel from paired power/minutes-per-degree
// samples collected at the same outdoor temperatures.
func NewHVACModel(powerPoints, minutesPerDegreePoints []Point) (*HVACModel, error) {
	power, err := newCurve(powerPoints)
	if err != nil {
		return nil, fmt.Errorf("thermal: power curve: %w", err)
	}
	minutes, err := newCurve(minutesPerDegreePoints)
	if err != nil {
		return nil, fmt.Errorf("thermal: minutes-per-degree curve: %w", err)
	}
	return &HVACModel{power: power, minutesPerDeg: minutes}, nil
}

// Power returns the power (kW) the system draws while running against
// outdoorTemp.
func (m *HVACModel) Power(outdoorTemp float64) float64 {
	return m.power.at(outdoorTemp)
}

// MinutesPerDegree returns the minutes required to move the indoor
// temperature by one degree while running against outdoorTemp.
func (m *HVACModel) MinutesPerDegree(outdoorTemp float64) float64 {
	return m.minutesPerDeg.at(outdoorTemp)
}

// GridPoint is one (indoor temperature, outdoor temperature, drift) sample
// used to fit the home model's grid. hvac.py's own HomeModel only indexes
// by outdoor temperature; this generalises it to the two-variable
// degree_per_minute(T_in, T_out) the home's actual thermal behaviour
// depends on (insulation losses scale with the gap between the two, not
// outdoor temperature alone).
type GridPoint struct {
	IndoorTemperature  float64
	OutdoorTemperature float64
	Value              float64
}

// HomeModel estimates the signed indoor-temperature drift (degrees/minute,
// positive or negative) the home experiences with the HVAC off, via
// bilinear interpolation over a 2-D grid of (indoor T, outdoor T) samples.
type HomeModel struct {
	indoorTemps  []float64
	outdoorTemps []float64
	values       [][]float64 // values[i][j] at (indoorTemps[i], outdoorTemps[j])
}

// NewHomeModel fits a HomeModel from a complete rectangular grid of
// degree-per-minute drift samples: every indoor temperature present in
// points must carry a value at every outdoor temperature present in
// points, and vice versa.
func NewHomeModel(points []GridPoint) (*HomeModel, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("thermal: need at least 1 grid point")
	}

	indoorSet := map[float64]bool{}
	outdoorSet := map[float64]bool{}
	for _, p := range points {
		indoorSet[p.IndoorTemperature] = true
		outdoorSet[p.OutdoorTemperature] = true
	}
	indoorTemps := sortedFloats(indoorSet)
	outdoorTemps := sortedFloats(outdoorSet)

	byPair := make(map[[2]float64]float64, len(points))
	for _, p := range points {
		byPair[[2]float64{p.IndoorTemperature, p.OutdoorTemperature}] = p.Value
	}

	values := make([][]float64, len(indoorTemps))
	for i, it := range indoorTemps {
		values[i] = make([]float64, len(outdoorTemps))
		for j, ot := range outdoorTemps {
			v, ok := byPair[[2]float64{it, ot}]
			if !ok {
				return nil, fmt.Errorf("thermal: incomplete home model grid: missing (indoor=%.2f, outdoor=%.2f)", it, ot)
			}
			values[i][j] = v
		}
	}
	return &HomeModel{indoorTemps: indoorTemps, outdoorTemps: outdoorTemps, values: values}, nil
}

func sortedFloats(set map[float64]bool) []float64 {
	out := make([]float64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// locate finds the bracketing pair of indices in a sorted axis for x,
// clamping to the first/last node outside the fitted range, and the
// fractional position between them (0 at lo, 1 at hi).
func locate(axis []float64, x float64) (lo, hi int, t float64) {
	if x <= axis[0] {
		return 0, 0, 0
	}
	last := len(axis) - 1
	if x >= axis[last] {
		return last, last, 0
	}
	for i := 1; i <= last; i++ {
		if x <= axis[i] {
			return i - 1, i, (x - axis[i-1]) / (axis[i] - axis[i-1])
		}
	}
	return last, last, 0
}

// DegreePerMinute returns the passive indoor-temperature drift rate at
// (indoorTemp, outdoorTemp): negative means the home is cooling, positive
// means warming.
func (m *HomeModel) DegreePerMinute(indoorTemp, outdoorTemp float64) float64 {
	iLo, iHi, ti := locate(m.indoorTemps, indoorTemp)
	jLo, jHi, tj := locate(m.outdoorTemps, outdoorTemp)

	v00, v01 := m.values[iLo][jLo], m.values[iLo][jHi]
	v10, v11 := m.values[iHi][jLo], m.values[iHi][jHi]

	v0 := v00 + (v01-v00)*tj
	v1 := v10 + (v11-v10)*tj
	return v0 + (v1-v0)*ti
}
