// Package config loads the broker's static configuration from a YAML file.
// It exposes the parsed struct the broker reads from; CLI flag parsing
// itself is out of scope here, keeping a thin CLI and a struct-driven core.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/axmq/ax/network"
	"github.com/axmq/ax/qos"
)

// Default per-QoS flow-rate maxima (messages per second)
const (
	DefaultQoS0Rate = 5000
	DefaultQoS1Rate = 2500
	DefaultQoS2Rate = 1250

	// DefaultBanDuration is how long a flow-rate-banned session is rejected for.
	DefaultBanDuration = 5 * time.Second

	// Default outbound QoS 1/2 redelivery policy.
	DefaultRetryMaxRetries  = 5
	DefaultRetryInterval    = 5 * time.Second
	DefaultRetryBackoff     = 2.0
	DefaultRetryMaxInterval = 60 * time.Second
	DefaultRetryAckTimeout  = 30 * time.Second
)

// Listener describes one network endpoint the broker accepts connections on.
type Listener struct {
	Scheme  string             `yaml:"scheme"` // mqtt, mqtts, ws, wss
	Address string             `yaml:"address"`
	Port    int                `yaml:"port"`
	TLS     *network.TLSConfig `yaml:"tls,omitempty"`
}

// FlowRates holds the per-QoS maximum publish rate, in messages per second.
type FlowRates struct {
	QoS0 int `yaml:"qos0"`
	QoS1 int `yaml:"qos1"`
	QoS2 int `yaml:"qos2"`
}

// Retry holds the outbound QoS 1/2 redelivery policy: how long to wait
// before resending an unacked publish, how that wait backs off, and when to
// give up.
type Retry struct {
	MaxRetries  int           `yaml:"max_retries"`
	Interval    time.Duration `yaml:"interval"`
	Backoff     float64       `yaml:"backoff"`
	MaxInterval time.Duration `yaml:"max_interval"`
	AckTimeout  time.Duration `yaml:"ack_timeout"`
}

// QoSConfig converts Retry into the qos package's policy knobs.
func (r Retry) QoSConfig() *qos.Config {
	return &qos.Config{
		MaxRetries:       r.MaxRetries,
		RetryInterval:    r.Interval,
		RetryBackoff:     r.Backoff,
		MaxRetryInterval: r.MaxInterval,
		AckTimeout:       r.AckTimeout,
	}
}

// Bridge describes one outbound bridge connection
type Bridge struct {
	Name            string             `yaml:"name"`
	Address         string             `yaml:"address"`
	Port            int                `yaml:"port"`
	ClientID        string             `yaml:"client_id"`
	Topics          []string           `yaml:"topics"`
	ReconnectPeriod time.Duration      `yaml:"reconnect_period"`
	TLS             *network.TLSConfig `yaml:"tls,omitempty"`
}

// Persistence selects and configures the on-disk/remote store backend.
type Persistence struct {
	Backend     string `yaml:"backend"` // "pebble" or "redis"
	Path        string `yaml:"path,omitempty"`
	Compression bool   `yaml:"compression"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
}

// Config is the broker's complete parsed configuration
type Config struct {
	RootPath         string        `yaml:"root_path"`
	PasswordFile     string        `yaml:"password_file,omitempty"`
	Listeners        []Listener    `yaml:"listeners"`
	FlowRates        FlowRates     `yaml:"flow_rates"`
	BanDuration      time.Duration `yaml:"ban_duration"`
	BanAccumulative  bool          `yaml:"ban_accumulative"`
	QoS0OfflineQueue bool          `yaml:"qos0_offline_queue"`
	Retry            Retry         `yaml:"retry"`
	Bridges          []Bridge      `yaml:"bridges,omitempty"`
	Persistence      Persistence   `yaml:"persistence"`
}

// Load reads and parses the YAML configuration at path, filling in defaults for
// any field the file leaves at its zero value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %q", path)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %q", path)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FlowRates.QoS0 == 0 {
		c.FlowRates.QoS0 = DefaultQoS0Rate
	}
	if c.FlowRates.QoS1 == 0 {
		c.FlowRates.QoS1 = DefaultQoS1Rate
	}
	if c.FlowRates.QoS2 == 0 {
		c.FlowRates.QoS2 = DefaultQoS2Rate
	}
	if c.BanDuration == 0 {
		c.BanDuration = DefaultBanDuration
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = DefaultRetryMaxRetries
	}
	if c.Retry.Interval == 0 {
		c.Retry.Interval = DefaultRetryInterval
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = DefaultRetryBackoff
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = DefaultRetryMaxInterval
	}
	if c.Retry.AckTimeout == 0 {
		c.Retry.AckTimeout = DefaultRetryAckTimeout
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "pebble"
	}
	for i := range c.Bridges {
		if c.Bridges[i].ReconnectPeriod == 0 {
			c.Bridges[i].ReconnectPeriod = 10 * time.Second
		}
	}
}

func (c *Config) validate() error {
	if len(c.Listeners) == 0 {
		return errors.New("config: at least one listener is required")
	}
	for _, l := range c.Listeners {
		switch l.Scheme {
		case "mqtt", "mqtts", "ws", "wss":
		default:
			return errors.Newf("config: listener %q: unknown scheme %q", l.Address, l.Scheme)
		}
		if (l.Scheme == "mqtts" || l.Scheme == "wss") && l.TLS == nil {
			return errors.Newf("config: listener %q: scheme %q requires tls", l.Address, l.Scheme)
		}
	}
	switch c.Persistence.Backend {
	case "pebble", "redis":
	default:
		return errors.Newf("config: unknown persistence backend %q", c.Persistence.Backend)
	}
	return nil
}

// Addr formats the listener's dial/listen address as host:port.
func (l Listener) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}
