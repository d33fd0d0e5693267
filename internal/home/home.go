// Package home controls smart-home devices from a JSON registry: HTTP
// devices get a JSON POST, MQTT devices get a publish. The keyword router
// in router.go turns spoken commands into these calls.
package home

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownDevice       = errors.New("device not found")
	ErrUnsupportedProtocol = errors.New("unsupported device protocol")
)

type MQTTConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Topic    string `json:"topic"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type Device struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Protocol string            `json:"protocol"` // "http" or "mqtt"
	URL      string            `json:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	MQTT     *MQTTConfig       `json:"mqtt,omitempty"`
	Status   string            `json:"status,omitempty"`
}

// DeviceInfo is the discovery listing shape served by GET /devices.
type DeviceInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

type registryFile struct {
	Devices map[string]Device `json:"devices"`
}

// LoadConfig reads the device registry. A missing or malformed file
// degrades to an empty registry so the assistant still boots.
func LoadConfig(path string) map[string]Device {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("device config not readable, starting with no devices", "path", path, "err", err)
		return map[string]Device{}
	}
	var file registryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		log.Warn("device config malformed, starting with no devices", "path", path, "err", err)
		return map[string]Device{}
	}
	if file.Devices == nil {
		return map[string]Device{}
	}
	return file.Devices
}

// Controller owns the registry and talks to devices.
type Controller struct {
	mu      sync.RWMutex
	devices map[string]Device

	httpClient *http.Client
	publish    publishFunc
}

func NewController(devices map[string]Device) *Controller {
	if devices == nil {
		devices = map[string]Device{}
	}
	return &Controller{
		devices:    devices,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		publish:    mqttPublish,
	}
}

// Devices lists the registry sorted by id.
func (c *Controller) Devices() []DeviceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(c.devices))
	for id, d := range c.devices {
		status := d.Status
		if status == "" {
			status = "offline"
		}
		name := d.Name
		if name == "" {
			name = id
		}
		typ := d.Type
		if typ == "" {
			typ = "unknown"
		}
		out = append(out, DeviceInfo{ID: id, Name: name, Type: typ, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status returns the last known status of a device.
func (c *Controller) Status(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[id]
	if !ok {
		return "", false
	}
	return d.Status, true
}

func (c *Controller) ToggleLight(id string) error {
	status, ok := c.Status(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if status == "on" {
		return c.Control(id, "off", nil)
	}
	return c.Control(id, "on", nil)
}

func (c *Controller) SetBrightness(id string, brightness int) error {
	if brightness < 0 || brightness > 100 {
		return fmt.Errorf("brightness %d out of range 0-100", brightness)
	}
	return c.Control(id, "set", map[string]any{"brightness": brightness})
}

func (c *Controller) SetTemperature(id string, temperature float64) error {
	return c.Control(id, "set", map[string]any{"temperature": temperature})
}
