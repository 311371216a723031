package sensor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTFloat reads a single numeric telemetry value pushed to an MQTT topic,
// generalising pool_sensor.py's WirelessTags push-callback pattern (and the
// Ecobee remote-sensor feed a home-assistant bridge republishes onto MQTT)
// onto the broker this repo already dials for every MQTT-actuated task.
// Unlike a poll-driven Sensor, the value only changes when the broker
// delivers a message; Read reports the most recently received value.
type MQTTFloat struct {
	mu    sync.Mutex
	value float64
	has   bool
	err   error
}

// NewMQTTFloat subscribes to topic on client and keeps the latest payload,
// parsed as a float64, as the sensor's current reading.
func NewMQTTFloat(client mqtt.Client, topic string) (*MQTTFloat, error) {
	s := &MQTTFloat{}
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.err = fmt.Errorf("sensor: mqtt_float %s: %w", topic, err)
			return
		}
		s.value, s.has, s.err = v, true, nil
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sensor: subscribe %s: %w", topic, err)
	}
	return s, nil
}

func (s *MQTTFloat) Read(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has {
		if s.err != nil {
			return 0, s.err
		}
		return 0, fmt.Errorf("sensor: no reading received yet")
	}
	return s.value, nil
}
