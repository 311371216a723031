package actuator

import (
	"context"
	"time"

	"github.com/devskill-org/home-scheduler/transport"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSwitch drives an on/off smart switch over MQTT, generalising
// pool_pump.py's Ewelink websocket on/off calls onto the broker-based
// actuation pattern from mqttwrapper.MQTTClientWrapper (kilianp07-v2g).
// It has no continuous control value, matching the device pool_pump.py
// models: SetPoint always fails with ErrUnsupported.
type MQTTSwitch struct {
	client   mqtt.Client
	topic    string
	onPaylod string
	offPaylod string
	qos      byte
	timeout  time.Duration
}

// NewMQTTSwitch returns a switch that publishes onPayload/offPayload to
// topic on client.
func NewMQTTSwitch(client mqtt.Client, topic, onPayload, offPayload string, timeout time.Duration) *MQTTSwitch {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MQTTSwitch{
		client:    client,
		topic:     topic,
		onPaylod:  onPayload,
		offPaylod: offPayload,
		qos:       1,
		timeout:   timeout,
	}
}

func (a *MQTTSwitch) publish(ctx context.Context, payload string) transport.Result[struct{}] {
	return transport.Call(ctx, a.timeout, func(context.Context) (struct{}, error) {
		token := a.client.Publish(a.topic, a.qos, false, payload)
		token.Wait()
		return unit, token.Error()
	})
}

func (a *MQTTSwitch) Start(ctx context.Context) transport.Result[struct{}] {
	return a.publish(ctx, a.onPaylod)
}

func (a *MQTTSwitch) Stop(ctx context.Context) transport.Result[struct{}] {
	return a.publish(ctx, a.offPaylod)
}

func (a *MQTTSwitch) SetPoint(ctx context.Context, value float64) transport.Result[struct{}] {
	return transport.ErrResult[struct{}](ErrUnsupported)
}
