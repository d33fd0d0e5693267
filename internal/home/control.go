package home

import (
	"bytes"
	"encoding/json"
	"fmt"
	log "log/slog"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type commandPayload struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

type publishFunc func(cfg MQTTConfig, clientID, topic string, payload []byte) error

// Control sends an action to a device. Remembered status is updated on
// success for on/off so ToggleLight sees the new state.
func (c *Controller) Control(id, action string, params map[string]any) error {
	c.mu.RLock()
	dev, ok := c.devices[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	var err error
	switch dev.Protocol {
	case "http":
		err = c.controlHTTP(dev, action, params)
	case "mqtt":
		err = c.controlMQTT(id, dev, action, params)
	default:
		err = fmt.Errorf("%w: %q on %s", ErrUnsupportedProtocol, dev.Protocol, id)
	}
	if err != nil {
		return err
	}

	if action == "on" || action == "off" {
		c.mu.Lock()
		dev = c.devices[id]
		dev.Status = action
		c.devices[id] = dev
		c.mu.Unlock()
	}

	log.Info("device controlled", "device", id, "action", action)
	return nil
}

func (c *Controller) controlHTTP(dev Device, action string, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(commandPayload{Action: action, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, dev.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range dev.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to device: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("device returned %s", resp.Status)
	}
	return nil
}

func (c *Controller) controlMQTT(id string, dev Device, action string, params map[string]any) error {
	if dev.MQTT == nil {
		return fmt.Errorf("device %s has no mqtt settings", id)
	}
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(commandPayload{Action: action, Params: params})
	if err != nil {
		return err
	}

	topic := dev.MQTT.Topic
	if topic == "" {
		topic = fmt.Sprintf("home/%s/%s", id, action)
	}

	return c.publish(*dev.MQTT, "capri_"+id, topic, payload)
}

// mqttPublish does a one-shot connect/publish/disconnect, mirroring the
// fire-and-forget publish the registry format was designed around.
func mqttPublish(cfg MQTTConfig, clientID, topic string, payload []byte) error {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 1883
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connect to %s:%d timed out", host, port)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer client.Disconnect(250)

	pub := client.Publish(topic, 0, false, payload)
	if !pub.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := pub.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}
