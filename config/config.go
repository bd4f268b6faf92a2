package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Clouded-Sabre/Tun-TCP/lib"
	"gopkg.in/yaml.v3"
)

// Config is the YAML form of the endpoint and connection settings.
type Config struct {
	Endpoint   EndpointSection   `yaml:"endpoint"`
	Connection ConnectionSection `yaml:"connection"`
}

type EndpointSection struct {
	LocalIP              string `yaml:"local_ip"`
	ListenPorts          []int  `yaml:"listen_ports"`
	MTU                  int    `yaml:"mtu"`
	FramePoolSize        int    `yaml:"frame_pool_size"`
	VerifyChecksum       bool   `yaml:"verify_checksum"`
	FilterRst            bool   `yaml:"filter_rst"`
	Debug                bool   `yaml:"debug"`
	PoolDebug            bool   `yaml:"pool_debug"`
	ProcessTimeThreshold int    `yaml:"process_time_threshold"`
}

type ConnectionSection struct {
	WindowSize uint16 `yaml:"window_size"`
	TTL        uint8  `yaml:"ttl"`
	RandomISS  bool   `yaml:"random_iss"`
	ISS        uint32 `yaml:"iss"`
}

// defaultConfig fills every field from the lib defaults so a YAML file only
// needs to name what it changes.
func defaultConfig() *Config {
	ec := lib.DefaultEndpointConfig()
	cc := lib.DefaultConnectionConfig()
	return &Config{
		Endpoint: EndpointSection{
			LocalIP:              ec.LocalIP,
			ListenPorts:          ec.ListenPorts,
			MTU:                  ec.MTU,
			FramePoolSize:        ec.FramePoolSize,
			VerifyChecksum:       ec.VerifyChecksum,
			FilterRst:            ec.FilterRst,
			Debug:                ec.Debug,
			PoolDebug:            ec.PoolDebug,
			ProcessTimeThreshold: ec.ProcessTimeThreshold,
		},
		Connection: ConnectionSection{
			WindowSize: cc.WindowSize,
			TTL:        cc.TTL,
			RandomISS:  cc.RandomISS,
			ISS:        cc.ISS,
		},
	}
}

// LoadConfig reads the endpoint configuration from a YAML file. Unknown keys
// are an error.
func LoadConfig(path string) (*lib.EndpointConfig, *lib.ConnectionConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	config := defaultConfig()
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := config.validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return config.endpointConfig(), config.connectionConfig(), nil
}

func (c *Config) validate() error {
	if c.Endpoint.MTU < lib.IpHeaderLength+lib.TcpHeaderLength {
		return fmt.Errorf("mtu %d is smaller than an IPv4/TCP header", c.Endpoint.MTU)
	}
	if c.Endpoint.FramePoolSize <= 0 {
		return fmt.Errorf("frame_pool_size must be positive, got %d", c.Endpoint.FramePoolSize)
	}
	for _, port := range c.Endpoint.ListenPorts {
		if port <= 0 || port > 0xffff {
			return fmt.Errorf("listen port %d out of range", port)
		}
	}
	if c.Connection.TTL == 0 {
		return errors.New("ttl must not be zero")
	}
	return nil
}

func (c *Config) endpointConfig() *lib.EndpointConfig {
	return &lib.EndpointConfig{
		LocalIP:              c.Endpoint.LocalIP,
		ListenPorts:          c.Endpoint.ListenPorts,
		MTU:                  c.Endpoint.MTU,
		FramePoolSize:        c.Endpoint.FramePoolSize,
		VerifyChecksum:       c.Endpoint.VerifyChecksum,
		FilterRst:            c.Endpoint.FilterRst,
		Debug:                c.Endpoint.Debug,
		PoolDebug:            c.Endpoint.PoolDebug,
		ProcessTimeThreshold: c.Endpoint.ProcessTimeThreshold,
	}
}

func (c *Config) connectionConfig() *lib.ConnectionConfig {
	return &lib.ConnectionConfig{
		WindowSize: c.Connection.WindowSize,
		TTL:        c.Connection.TTL,
		RandomISS:  c.Connection.RandomISS,
		ISS:        c.Connection.ISS,
	}
}
