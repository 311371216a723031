package pv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Albuquerque, NM: sunny, low-latitude, generous peak power so windows are
// easy to reason about by hand.
func testSystem() System {
	return System{
		Latitude:       35.08,
		Longitude:      -106.65,
		PeakPower:      8,
		SurfaceTilt:    30,
		SurfaceAzimuth: 180,
		BasePower:      0.4,
	}
}

func TestPredictor_PowerAtNight(t *testing.T) {
	p := NewPredictor(testSystem(), nil)
	midnight := time.Date(2026, 6, 21, 6, 0, 0, 0, time.UTC) // before dawn in local solar time
	require.Equal(t, 0.0, p.PowerAt(midnight, nil, nil))
}

func TestPredictor_MaxAvailablePowerAtAfterDusk(t *testing.T) {
	p := NewPredictor(testSystem(), nil)
	_, dusk := p.DaytimeAt(time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC))
	require.Equal(t, 0.0, p.MaxAvailablePowerAt(dusk.Add(time.Hour)))
}

func TestPredictor_OptimalTimeIsMidwayThroughDaytime(t *testing.T) {
	p := NewPredictor(testSystem(), nil)
	day := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	dawn, dusk := p.DaytimeAt(day)
	optimal := p.OptimalTimeAt(day)
	require.WithinDuration(t, dawn.Add(dusk.Sub(dawn)/2), optimal, time.Second)
}

func TestPredictor_NextPowerWindowUnreachablePowerIsZeroLength(t *testing.T) {
	p := NewPredictor(testSystem(), nil)
	start, end := p.NextPowerWindow(1000)
	require.Equal(t, start, end)
}

func TestPredictor_NextPowerWindowAlreadySatisfiedStartsNow(t *testing.T) {
	p := NewPredictor(testSystem(), nil)
	now := time.Now()
	optimal := p.OptimalTimeAt(now)
	start, _ := p.NextPowerWindow(p.PowerAt(optimal, nil, nil) - p.system.BasePower - 5)
	require.WithinDuration(t, now, start, time.Minute)
}
