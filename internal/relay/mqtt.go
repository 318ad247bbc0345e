// Package relay publishes decoded readings to an MQTT broker so other
// systems can watch the sensor live. Relay trouble never interrupts a run;
// readings are dropped until the broker comes back.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/inkley/sensorctl/internal/config"
	"github.com/inkley/sensorctl/internal/sensor"
	"github.com/inkley/sensorctl/pkg/logger"
)

const connectTimeout = 5 * time.Second

// Publisher relays readings to per-channel topics under a common prefix.
type Publisher struct {
	client paho.Client
	prefix string
	qos    byte

	dropWarned bool
}

// New connects to the broker from the MQTT config.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Log.Warnf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Log.Infof("MQTT connected to %s", cfg.Broker)
	})

	p := &Publisher{
		prefix: cfg.TopicPrefix,
		qos:    byte(cfg.QoS),
	}
	p.client = paho.NewClient(opts)
	tok := p.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return p, nil
}

// Append publishes one reading as JSON to <prefix>/<channel>. Always
// returns nil: a down broker must not end the run, so failures are logged
// and the reading is dropped.
func (p *Publisher) Append(r sensor.Reading) error {
	if !p.client.IsConnected() {
		if !p.dropWarned {
			logger.Log.Warnf("MQTT broker unreachable; dropping readings until it returns")
			p.dropWarned = true
		}
		return nil
	}
	p.dropWarned = false

	payload, err := json.Marshal(r)
	if err != nil {
		logger.Log.Warnf("Marshal reading for MQTT: %v", err)
		return nil
	}
	topic := p.prefix + "/" + string(r.Channel)
	// Fire and forget; the broadcast rate leaves no room to wait on acks.
	p.client.Publish(topic, p.qos, false, payload)
	return nil
}

// Close disconnects from the broker, allowing a short drain for in-flight
// messages.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

var _ sensor.ReadingSink = (*Publisher)(nil)
