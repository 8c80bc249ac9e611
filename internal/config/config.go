// Package config handles configuration loading and validation for the
// devprobe diagnostic client.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigFile      = "config/devprobe.json"
	DefaultPeerAddress     = "127.0.0.1"
	DefaultPeerPort        = 10123
	DefaultReceiveTimeout  = time.Second
	DefaultJournalPath     = "data/journal.db"
	DefaultMQTTTopicPrefix = "devprobe"
	DefaultJournalMaxRows  = 10000
	DefaultStatsInterval   = 5 * time.Minute
)

// Config is the root configuration structure. It is loaded once at startup
// and not modified afterwards.
type Config struct {
	path string

	Peer    PeerConfig    `json:"peer"`
	Client  ClientData    `json:"client"`
	Journal JournalConfig `json:"journal"`
	MQTT    MQTTConfig    `json:"mqtt"`
	API     APIConfig     `json:"api"`
	Logging LoggingConfig `json:"logging"`
}

// PeerConfig identifies the diagnostic target.
type PeerConfig struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// ClientData holds listener behaviour settings.
type ClientData struct {
	AutoPongReply    bool `json:"auto_pong_reply"`
	ReceiveTimeoutMs int  `json:"receive_timeout_ms"`
}

// JournalConfig controls the SQLite traffic journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// MaxRows bounds the table; older rows are pruned periodically. 0 keeps everything.
	MaxRows int `json:"max_rows"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// APIConfig holds settings for the local REST API. Port 0 disables it.
type APIConfig struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	// StatsIntervalSec is how often traffic counters are logged. 0 disables it.
	StatsIntervalSec int `json:"stats_interval_sec"`
}

// PeerAddress is the (host, port) pair of the single diagnostic target.
type PeerAddress struct {
	Host string
	Port int
}

// String returns the address in host:port form.
func (p PeerAddress) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ClientConfig is the immutable runtime view shared by the listener and
// the command dispatcher.
type ClientConfig struct {
	Peer           PeerAddress
	AutoPongReply  bool
	ReceiveTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Peer: PeerConfig{
			Address: DefaultPeerAddress,
			Port:    DefaultPeerPort,
		},
		Client: ClientData{
			AutoPongReply:    false,
			ReceiveTimeoutMs: int(DefaultReceiveTimeout / time.Millisecond),
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    DefaultJournalPath,
			MaxRows: DefaultJournalMaxRows,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: DefaultMQTTTopicPrefix,
		},
		API: APIConfig{
			Port:         0,
			RateLimitRPS: 20,
		},
		Logging: LoggingConfig{
			Level:            "info",
			Directory:        "logs",
			MaxBackups:       5,
			StatsIntervalSec: int(DefaultStatsInterval / time.Second),
		},
	}
}

// Load reads configuration from a JSON file, overlaying it on the defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Path returns the config file path, or "" when running on defaults.
func (c *Config) Path() string {
	return c.path
}

// ReceiveTimeout returns the listener poll interval.
func (c *Config) ReceiveTimeout() time.Duration {
	if c.Client.ReceiveTimeoutMs <= 0 {
		return DefaultReceiveTimeout
	}
	return time.Duration(c.Client.ReceiveTimeoutMs) * time.Millisecond
}

// StatsInterval returns the stats logging period, or 0 when disabled.
func (c *Config) StatsInterval() time.Duration {
	if c.Logging.StatsIntervalSec <= 0 {
		return 0
	}
	return time.Duration(c.Logging.StatsIntervalSec) * time.Second
}

// ClientConfig builds the immutable runtime view of the configuration.
func (c *Config) ClientConfig() ClientConfig {
	return ClientConfig{
		Peer: PeerAddress{
			Host: c.Peer.Address,
			Port: c.Peer.Port,
		},
		AutoPongReply:  c.Client.AutoPongReply,
		ReceiveTimeout: c.ReceiveTimeout(),
	}
}
