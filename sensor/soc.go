package sensor

import (
	"context"

	"github.com/devskill-org/home-scheduler/sigenergy"
)

// EVStateOfCharge reads the connected vehicle's battery state of charge
// from the Sigenergy DC charger registers, replacing car_charger.py's
// separate CarSensorProxy (an OBD2/Bluetooth proxy process) with the
// reading this repo's own plant Modbus client already exposes.
type EVStateOfCharge struct {
	client *sigenergy.SigenModbusClient
}

// NewEVStateOfCharge wraps client as a Sensor[float64] (percent, 0-100).
func NewEVStateOfCharge(client *sigenergy.SigenModbusClient) *EVStateOfCharge {
	return &EVStateOfCharge{client: client}
}

func (s *EVStateOfCharge) Read(ctx context.Context) (float64, error) {
	info, err := s.client.ReadPlantRunningInfo()
	if err != nil {
		return 0, err
	}
	return info.DCChargerVehicleSOC, nil
}
