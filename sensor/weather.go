package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/devskill-org/home-scheduler/meteo"
)

// WeatherSnapshot is the subset of a forecast the PV predictor and the
// HVAC/pool-pump deadline planners need.
type WeatherSnapshot struct {
	CloudCoverage float64 // %, 0-100
	Temperature   float64 // degrees C
	Symbol        meteo.WeatherSymbol
}

// Weather reads the current forecast entry for a fixed location, grounded
// in MyOpenWeather.read() from sensor.py but against the MET Norway API the
// rest of this repo already talks to (meteo.Client).
type Weather struct {
	client   *meteo.Client
	location meteo.Location
}

// NewWeather returns a Weather sensor for location.
func NewWeather(client *meteo.Client, location meteo.Location) *Weather {
	return &Weather{client: client, location: location}
}

func (s *Weather) Read(ctx context.Context) (WeatherSnapshot, error) {
	forecast, err := s.client.GetCompact(meteo.QueryParams{
		Location: s.location,
	})
	if err != nil {
		return WeatherSnapshot{}, fmt.Errorf("sensor: weather fetch: %w", err)
	}
	step := forecast.GetWeatherAtTime(time.Now())
	if step == nil {
		return WeatherSnapshot{}, fmt.Errorf("sensor: no forecast entry for now")
	}
	snap := WeatherSnapshot{}
	if t := step.GetTemperature(); t != nil {
		snap.Temperature = *t
	}
	if c := step.GetCloudCoverage(); c != nil {
		snap.CloudCoverage = *c
	}
	if sym := step.GetSymbolCode(); sym != nil {
		snap.Symbol = *sym
	}
	return snap, nil
}
