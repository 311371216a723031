package sensor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TankState is a water heater's tank level and temperature reading
// (water_heater.py's WaterHeaterState: "the Aquanta temperature sensor and
// available water are per design partially driven by some software
// algorithms").
type TankState struct {
	Available   float64 // tank level, percent
	Temperature float64 // degrees F
}

// MQTTTankState reads a water heater's tank level and temperature from two
// MQTT topics published by the device's bridge (Aquanta in water_heater.py;
// this repo already talks MQTT to the water heater's switch).
type MQTTTankState struct {
	mu    sync.Mutex
	state TankState
	has   bool
	err   error
}

// NewMQTTTankState subscribes to availableTopic/temperatureTopic on client.
func NewMQTTTankState(client mqtt.Client, availableTopic, temperatureTopic string) (*MQTTTankState, error) {
	s := &MQTTTankState{}

	subscribe := func(topic string, set func(*MQTTTankState, float64)) error {
		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
			s.mu.Lock()
			defer s.mu.Unlock()
			if err != nil {
				s.err = fmt.Errorf("sensor: tank_state %s: %w", topic, err)
				return
			}
			set(s, v)
			s.has = true
			s.err = nil
		})
		token.Wait()
		return token.Error()
	}

	if err := subscribe(availableTopic, func(s *MQTTTankState, v float64) { s.state.Available = v }); err != nil {
		return nil, fmt.Errorf("sensor: subscribe %s: %w", availableTopic, err)
	}
	if err := subscribe(temperatureTopic, func(s *MQTTTankState, v float64) { s.state.Temperature = v }); err != nil {
		return nil, fmt.Errorf("sensor: subscribe %s: %w", temperatureTopic, err)
	}
	return s, nil
}

func (s *MQTTTankState) Read(ctx context.Context) (TankState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has {
		if s.err != nil {
			return TankState{}, s.err
		}
		return TankState{}, fmt.Errorf("sensor: no tank reading received yet")
	}
	return s.state, nil
}
