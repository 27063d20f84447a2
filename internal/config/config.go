package config

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort    = 6667
	defaultTLSPort = 6697
	defaultRate    = 2.0
	defaultBurst   = 5
	defaultService = "iobot"
)

// Config holds all bot configuration
type Config struct {
	Nick        string             `yaml:"nick"`
	Alternate   string             `yaml:"alternate"`
	User        string             `yaml:"user"`
	RealName    string             `yaml:"realname"`
	Prefix      string             `yaml:"prefix"`
	Plugins     []string           `yaml:"plugins"`
	DataDir     string             `yaml:"data_dir"`
	MetricsAddr string             `yaml:"metrics_addr"`
	Relay       Relay              `yaml:"relay"`
	Tracing     Tracing            `yaml:"tracing"`
	Servers     map[string]*Server `yaml:"servers"`
}

// Server is the realized configuration of one server connection. Identity
// fields left empty in the file are inherited from the top level.
type Server struct {
	Name           string        `yaml:"-"`
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	Password       string        `yaml:"password"`
	TLS            bool          `yaml:"tls"`
	TLSInsecure    bool          `yaml:"tls_insecure"`
	Proxy          string        `yaml:"proxy"`
	Channels       []string      `yaml:"channels"`
	Owners         []string      `yaml:"owners"`
	Nick           string        `yaml:"nick"`
	Alternate      string        `yaml:"alternate"`
	User           string        `yaml:"user"`
	RealName       string        `yaml:"realname"`
	Prefix         string        `yaml:"prefix"`
	SendRate       float64       `yaml:"send_rate"`
	SendBurst      int           `yaml:"send_burst"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// Relay configures the Kafka event relay plugin.
type Relay struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Tracing configures OTLP span export. An empty endpoint disables it.
type Tracing struct {
	Endpoint string `yaml:"endpoint"`
	// Service is the service.name resource attribute.
	Service  string `yaml:"service"`
	Insecure bool   `yaml:"insecure"`
	// SampleRatio is the fraction of root spans kept; 0 means all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads and parses a YAML configuration file. A .env file next to the
// working directory is loaded first so IOBOT_* overrides can live there.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML without touching the environment or applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("IOBOT_NICK"); v != "" {
		c.Nick = v
	}
	if v := os.Getenv("IOBOT_PREFIX"); v != "" {
		c.Prefix = v
	}
	if v := os.Getenv("IOBOT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("IOBOT_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if v := os.Getenv("IOBOT_PLUGINS"); v != "" {
		c.Plugins = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Plugins = append(c.Plugins, p)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.User == "" {
		c.User = c.Nick
	}
	if c.RealName == "" {
		c.RealName = c.Nick
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Relay.Topic == "" {
		c.Relay.Topic = "irc-events"
	}
	if c.Tracing.Service == "" {
		c.Tracing.Service = defaultService
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}

	for name, s := range c.Servers {
		if s == nil {
			continue
		}
		s.Name = name
		if s.Nick == "" {
			s.Nick = c.Nick
		}
		if s.Alternate == "" {
			s.Alternate = c.Alternate
		}
		if s.User == "" {
			s.User = c.User
		}
		if s.RealName == "" {
			s.RealName = c.RealName
		}
		if s.Prefix == "" {
			s.Prefix = c.Prefix
		}
		if s.Port == 0 {
			s.Port = defaultPort
			if s.TLS {
				s.Port = defaultTLSPort
			}
		}
		if s.SendRate <= 0 {
			s.SendRate = defaultRate
		}
		if s.SendBurst <= 0 {
			s.SendBurst = defaultBurst
		}
	}
}

// Validate checks the fields the connection core cannot run without.
func (c *Config) Validate() error {
	if c.Nick == "" {
		return fmt.Errorf("config: nick is required")
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: at least one server is required")
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("config: tracing sample_ratio %v is outside [0, 1]", r)
	}
	for name, s := range c.Servers {
		if s == nil || s.Address == "" {
			return fmt.Errorf("config: server %q has no address", name)
		}
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("config: server %q has invalid port %d", name, s.Port)
		}
	}
	return nil
}

// ServerNames returns the configured server names in a stable order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HostPort is the dial target for plain and TLS connections.
func (s *Server) HostPort() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// IsWebSocket reports whether the address is a ws:// or wss:// URL.
func (s *Server) IsWebSocket() bool {
	return strings.HasPrefix(s.Address, "ws://") || strings.HasPrefix(s.Address, "wss://")
}
