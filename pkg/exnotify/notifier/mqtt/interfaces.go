package mqtt

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client is the part of mqtt.Client the notifier uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}
