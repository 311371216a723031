package sensor

import (
	"context"
	"time"

	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/sigenergy"
)

// PlantPower reads grid/production/consumption power from a Sigenergy
// plant, grounded in sigenergy.ReadPlantRunningInfo, replacing the
// Emporia/MyVue2 channel-mapping sensor from sensor.py with the single
// Modbus round-trip the Sigenergy plant already exposes.
type PlantPower struct {
	client *sigenergy.SigenModbusClient
}

// NewPlantPower wraps client as a Sensor[record.PowerRecord].
func NewPlantPower(client *sigenergy.SigenModbusClient) *PlantPower {
	return &PlantPower{client: client}
}

// Read implements Sensor[record.PowerRecord].
func (s *PlantPower) Read(ctx context.Context) (record.PowerRecord, error) {
	info, err := s.client.ReadPlantRunningInfo()
	if err != nil {
		return record.PowerRecord{}, err
	}
	production := info.PhotovoltaicPower
	if info.ESSPower < 0 {
		production -= info.ESSPower
	}
	consumption := production - info.PlantActivePower
	if consumption < 0 {
		consumption = 0
	}
	values := map[string]float64{
		record.Production:  production,
		record.Consumption: consumption,
		"grid":             info.GridSensorActivePower,
		"ess_soc":          info.ESSSOC,
		"ess_power":        info.ESSPower,
	}
	return record.New(time.Now(), values), nil
}
