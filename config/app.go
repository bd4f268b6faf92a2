package config

import (
	"fmt"
	"os"

	"github.com/Clouded-Sabre/Tun-TCP/lib"
	"gopkg.in/yaml.v2"
)

// AppSettings holds the process wiring around the endpoint: which device to
// open and how to set it up.
type AppSettings struct {
	TunName      string `yaml:"tun_name"`
	Address      string `yaml:"address"` // CIDR assigned to the TUN device, e.g. 10.0.0.1/24; empty leaves it alone
	MTU          int    `yaml:"mtu"`
	FilterAnchor string `yaml:"filter_anchor"` // iptables comment / pf anchor of the RST filtering rules
	DivertFilter string `yaml:"divert_filter"` // WinDivert filter selecting the packets handed to the endpoint
	Transport    string `yaml:"transport"`     // "tun", "divert" or "rawsocket"; empty picks the platform default
}

const (
	TransportTun       = "tun"
	TransportDivert    = "divert"
	TransportRawSocket = "rawsocket"
)

var AppConfig *AppSettings

func DefaultAppSettings() *AppSettings {
	return &AppSettings{
		TunName:      "tun0",
		Address:      "",
		MTU:          1500,
		FilterAnchor: "TUN_anchor",
		DivertFilter: "inbound and tcp",
		Transport:    "",
	}
}

// ReadConfig reads the application settings from a YAML file.
func ReadConfig(path string) (*AppSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	settings := DefaultAppSettings()
	if err := yaml.UnmarshalStrict(data, settings); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if settings.TunName == "" {
		return nil, fmt.Errorf("%s: tun_name must not be empty", path)
	}
	switch settings.Transport {
	case "", TransportTun, TransportDivert, TransportRawSocket:
	default:
		return nil, fmt.Errorf("%s: unknown transport %q", path, settings.Transport)
	}
	return settings, nil
}

// FitFrameSize grows the endpoint's frame buffers to the link MTU so that a
// full sized frame is never cut short on receive. It reports whether the
// endpoint configuration changed.
func FitFrameSize(app *AppSettings, ec *lib.EndpointConfig) bool {
	if app.MTU <= ec.MTU {
		return false
	}
	ec.MTU = app.MTU
	return true
}
