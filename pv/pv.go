// Package pv implements the PV predictor (C4): expected solar production
// at a point in time, the daily power ceiling, the next time a power level
// becomes available, and today's daylight window. It generalises
// power_simulator.py's pvlib-backed model onto a clear-sky irradiance
// approximation driven by github.com/sixdouglas/suncalc, the same library
// the teacher's scheduler/mpc.go uses for sun position in
// estimateSolarPowerFromWeather, plus weather from the meteo package.
package pv

import (
	"math"
	"sync"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/devskill-org/home-scheduler/meteo"
)

// System describes the installed PV array, mirroring power_simulator.py's
// PV_SYSTEM table (tilt/azimuth/peak power), flattened to the parameters
// the clear-sky approximation actually needs.
type System struct {
	Latitude       float64
	Longitude      float64
	PeakPower      float64 // kW, inverter-clamped array output at zenith under clear sky
	SurfaceTilt    float64 // degrees from horizontal
	SurfaceAzimuth float64 // degrees from north, panel-facing direction
	BasePower      float64 // kW, household baseline load power_at nets out (power_simulator.py's base_power)
}

// seasonalTemperature is the degraded-mode fallback table keyed by month
// (1-12), used when no weather forecast is available (SPEC_FULL.md §4.1).
// Values are illustrative Northern-hemisphere midday averages in Celsius
// and are fixed in this table.
var seasonalTemperature = [13]float64{
	0, 5, 7, 11, 15, 19, 23, 26, 26, 22, 16, 10, 6,
}

// Predictor answers the pv.Predictor questions the planner and the pool
// pump / HVAC tasks need (C4's `power_at`, `max_available_power`,
// `next_power_window`, `optimal_time`, `daytime`).
type Predictor struct {
	system  System
	weather *meteo.Client

	mu          sync.Mutex
	memoDay     time.Time
	memoTempC   float64
	daylightDay time.Time
	dawn, dusk  time.Time
}

// NewPredictor builds a Predictor for the given array and weather client.
// weather may be nil, in which case every query runs in degraded mode
// against the seasonal fallback table.
func NewPredictor(system System, weather *meteo.Client) *Predictor {
	return &Predictor{system: system, weather: weather}
}

// Degraded reports whether a weather lookup for the current time falls
// back to the seasonal-average table because weather data is unavailable
// (§7, error kind 3 "degraded"). It performs its own lookup.
func (p *Predictor) Degraded() bool {
	forecast, _, _, ok := p.weatherAt(time.Now())
	return !ok || forecast == nil
}

// weatherAt returns (forecast step, tempC, cloudFraction, ok). ok is false
// when no weather client is configured or the fetch failed, in which case
// callers should use the seasonal fallback.
func (p *Predictor) weatherAt(t time.Time) (*meteo.ForecastTimeStep, float64, float64, bool) {
	if p.weather == nil {
		return nil, seasonalTemperature[t.Month()], 0, false
	}
	forecast, err := p.weather.GetCompact(meteo.QueryParams{
		Location: meteo.Location{Latitude: p.system.Latitude, Longitude: p.system.Longitude},
	})
	if err != nil || forecast == nil {
		return nil, seasonalTemperature[t.Month()], 0, false
	}
	step := forecast.GetWeatherAtTime(t)
	if step == nil {
		return nil, seasonalTemperature[t.Month()], 0, false
	}
	tempC := seasonalTemperature[t.Month()]
	if v := step.GetTemperature(); v != nil {
		tempC = *v
	}
	cloud := 0.0
	if v := step.GetCloudCoverage(); v != nil {
		cloud = *v / 100
	}
	return step, tempC, cloud, true
}

// PowerAt returns expected production (kW, before subtracting BasePower) at
// t, under the supplied or forecast weather (spec.md §4.1 power_at).
// tempAirC of nil means "use forecast/fallback temperature". windSpeedMS of
// nil means no wind; forecast wind speed is not used.
func (p *Predictor) PowerAt(t time.Time, tempAirC, windSpeedMS *float64) float64 {
	pos := suncalc.GetPosition(t, p.system.Latitude, p.system.Longitude)
	solarAngleFactor := math.Sin(pos.Altitude)
	if solarAngleFactor < 0 {
		return 0
	}

	misalignment := p.tiltAzimuthFactor(pos.Altitude, pos.Azimuth)

	var tempC, cloudFraction float64
	if tempAirC != nil {
		tempC = *tempAirC
	}
	_, weatherTempC, cloud, ok := p.weatherAt(t)
	if tempAirC == nil {
		if ok {
			tempC = weatherTempC
		} else {
			tempC = seasonalTemperature[t.Month()]
		}
	}
	if ok {
		cloudFraction = cloud
	}
	cloudFactor := 1.0 - cloudFraction*0.90

	// Cell efficiency derates roughly 0.4%/°C above 25°C; wind cools the
	// panel back toward ambient, clawing some of that back.
	windMS := 0.0
	if windSpeedMS != nil {
		windMS = *windSpeedMS
	}
	cellTemp := tempC + 25 - math.Min(windMS, 10)*1.5
	tempFactor := 1 - math.Max(0, cellTemp-25)*0.004

	power := p.system.PeakPower * solarAngleFactor * misalignment * cloudFactor * tempFactor
	if power < 0 {
		return 0
	}
	return power
}

// tiltAzimuthFactor derates production for panels that don't face the sun
// directly: cos(angle between panel normal and sun vector), floored at 0.
// altitude and azimuth are suncalc's sun-position outputs, in radians.
func (p *Predictor) tiltAzimuthFactor(altitude, azimuth float64) float64 {
	tilt := p.system.SurfaceTilt * math.Pi / 180
	panelAz := p.system.SurfaceAzimuth * math.Pi / 180
	sunAz := azimuth + math.Pi // suncalc measures azimuth from south; normalise to from-north
	cosIncidence := math.Cos(tilt)*math.Sin(altitude) +
		math.Sin(tilt)*math.Cos(altitude)*math.Cos(sunAz-panelAz)
	if cosIncidence < 0 {
		return 0
	}
	return cosIncidence
}

// Daytime returns today's dawn/dusk as suncalc's sunrise/sunset, memoised
// per calendar day (spec.md §4.1 daytime).
func (p *Predictor) Daytime() (dawn, dusk time.Time) {
	return p.DaytimeAt(time.Now())
}

// DaytimeAt returns t's calendar day's dawn/dusk.
func (p *Predictor) DaytimeAt(t time.Time) (dawn, dusk time.Time) {
	day := t.Truncate(24 * time.Hour)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.daylightDay.Equal(day) {
		return p.dawn, p.dusk
	}
	times := suncalc.GetTimes(t, p.system.Latitude, p.system.Longitude)
	p.dawn = times["sunrise"].Value
	p.dusk = times["sunset"].Value
	p.daylightDay = day
	return p.dawn, p.dusk
}

// OptimalTime returns today's argmax of PowerAt over daytime: the midpoint
// of dawn and dusk, since the clear-sky curve is symmetric around solar
// noon (spec.md §4.1 optimal_time).
func (p *Predictor) OptimalTime() time.Time { return p.OptimalTimeAt(time.Now()) }

// OptimalTimeAt returns t's calendar day's optimal time.
func (p *Predictor) OptimalTimeAt(t time.Time) time.Time {
	dawn, dusk := p.DaytimeAt(t)
	return dawn.Add(dusk.Sub(dawn) / 2)
}

// MaxAvailablePowerAt returns the maximum power available between t and
// the same day's dusk, net of BasePower (spec.md §4.1
// max_available_power, power_simulator.py max_available_power_at): since
// the clear-sky curve is single-peaked, the maximum is either now (on the
// declining side of the peak) or at the peak itself.
func (p *Predictor) MaxAvailablePowerAt(t time.Time) float64 {
	_, dusk := p.DaytimeAt(t)
	if t.After(dusk) {
		return 0
	}
	optimal := p.OptimalTimeAt(t)
	var production float64
	if t.After(optimal) {
		production = p.PowerAt(t, nil, nil)
	} else {
		production = p.PowerAt(optimal, nil, nil)
	}
	available := production - p.system.BasePower
	if available < 0 {
		return 0
	}
	return available
}

// powerRange samples PowerAt at one-minute resolution across [start, end),
// generalising power_simulator.py's _PowerRange helper.
type powerRange struct {
	p             *Predictor
	start, end    time.Time
	minutes       int
	reverse       bool
}

func newPowerRange(p *Predictor, start, end time.Time, reverse bool) powerRange {
	return powerRange{p: p, start: start, end: end, minutes: int(end.Sub(start) / time.Minute), reverse: reverse}
}

func (r powerRange) at(index int) time.Time {
	if r.reverse {
		index = r.minutes - index
	}
	return r.start.Add(time.Duration(index) * time.Minute)
}

// firstAtLeast returns the smallest index i in [0, minutes] whose sampled
// power is >= power, or minutes if none qualifies (the bisect_right
// equivalent, but walked linearly since the curve isn't guaranteed sorted
// once clouds are involved).
func (r powerRange) firstAtLeast(power float64) int {
	for i := 0; i <= r.minutes; i++ {
		if r.p.PowerAt(r.at(i), nil, nil)-r.p.system.BasePower >= power {
			return i
		}
	}
	return r.minutes
}

// NextPowerWindow returns the smallest-start, latest-end interval today
// during which production is expected to stay >= power (spec.md §4.1
// next_power_window, power_simulator.py next_power_window). If now already
// satisfies it, start = now. If no point of the day reaches power, it
// returns a zero-length window (start == end == now), the boundary
// behaviour spec.md calls out explicitly over the Python original's
// ValueError (DESIGN.md #3).
func (p *Predictor) NextPowerWindow(power float64) (start, end time.Time) {
	now := time.Now().Truncate(time.Minute)
	_, dusk := p.DaytimeAt(now)
	optimal := p.OptimalTimeAt(now)

	if p.PowerAt(now, nil, nil)-p.system.BasePower >= power {
		fromOptimal := optimal
		if now.After(optimal) {
			fromOptimal = now
		}
		declining := newPowerRange(p, fromOptimal, dusk, true)
		return now, declining.at(declining.firstAtLeast(power))
	}

	var early time.Time
	if now.Before(optimal) {
		early = now
	} else {
		tomorrowDawn, _ := p.DaytimeAt(now.Add(24 * time.Hour))
		early = tomorrowDawn
	}

	risingEnd := p.OptimalTimeAt(early)
	rising := newPowerRange(p, early, risingEnd, false)
	declining := newPowerRange(p, risingEnd, dusk, true)

	start = rising.at(rising.firstAtLeast(power))
	end = declining.at(declining.firstAtLeast(power))
	if !start.Before(end) || p.PowerAt(start, nil, nil)-p.system.BasePower < power {
		return now, now
	}
	return start, end
}
