package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bandctl/pkg/miband"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel logrus.Level  `yaml:"log_level"`
	Band     BandConfig    `yaml:"band"`
	Session  SessionConfig `yaml:"session"`
	HTTP     HTTPConfig    `yaml:"http"`
}

// BandConfig identifies the band. Leaving either field empty yields a freezed session.
type BandConfig struct {
	MACAddress string `yaml:"mac_address"`
	AuthKey    string `yaml:"auth_key"`
}

// SessionConfig mirrors miband.Options.
type SessionConfig struct {
	ConnectTimeout        time.Duration     `yaml:"connect_timeout" default:"10s"`
	ReconnectBackoff      time.Duration     `yaml:"reconnect_backoff" default:"3s"`
	MaxConnectAttempts    int               `yaml:"max_connect_attempts" default:"0"`
	RequestTimeout        time.Duration     `yaml:"request_timeout" default:"10s"`
	AuthStepTimeout       time.Duration     `yaml:"auth_step_timeout" default:"5s"`
	HeartRateTimeout      time.Duration     `yaml:"heart_rate_timeout" default:"30s"`
	PollInterval          time.Duration     `yaml:"poll_interval" default:"50ms"`
	HeartRatePingInterval time.Duration     `yaml:"heart_rate_ping_interval" default:"12s"`
	FirmwareSettle        time.Duration     `yaml:"firmware_settle" default:"500ms"`
	PulseOnConnect        bool              `yaml:"pulse_on_connect" default:"true"`
	AlertTitle            string            `yaml:"alert_title" default:"bandctl"`
	Access                map[string]string `yaml:"access"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Addr           string   `yaml:"addr" default:":8080"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	cfg.HTTP.AllowedOrigins = []string{"*"}
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if len(cfg.HTTP.AllowedOrigins) == 0 {
		cfg.HTTP.AllowedOrigins = []string{"*"}
	}
	return cfg, cfg.Validate()
}

// LoadCredentials reads a credentials file holding a single "MAC;AUTH_KEY" line.
func LoadCredentials(path string) (mac, authKey string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	line := strings.TrimSpace(string(data))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.Split(line, ";")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("credentials file %s: expected MAC;AUTH_KEY, got %d field(s)", path, len(parts))
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// ApplyCredentials overrides the band credentials with non-empty values.
func (c *Config) ApplyCredentials(mac, authKey string) {
	if mac != "" {
		c.Band.MACAddress = mac
	}
	if authKey != "" {
		c.Band.AuthKey = authKey
	}
}

// Validate checks timings, the access table and, when both are set, the credentials.
func (c *Config) Validate() error {
	var errs []error

	s := c.Session
	for name, d := range map[string]time.Duration{
		"connect_timeout":          s.ConnectTimeout,
		"reconnect_backoff":        s.ReconnectBackoff,
		"request_timeout":          s.RequestTimeout,
		"auth_step_timeout":        s.AuthStepTimeout,
		"heart_rate_timeout":       s.HeartRateTimeout,
		"poll_interval":            s.PollInterval,
		"heart_rate_ping_interval": s.HeartRatePingInterval,
		"firmware_settle":          s.FirmwareSettle,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("session.%s must be positive, got %s", name, d))
		}
	}
	if s.MaxConnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("session.max_connect_attempts must not be negative, got %d", s.MaxConnectAttempts))
	}
	if _, err := c.accessTable(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must not be empty"))
	}

	if c.Band.MACAddress != "" && c.Band.AuthKey != "" {
		if _, _, err := miband.ParseCredentials(c.Band.MACAddress, c.Band.AuthKey); err != nil {
			errs = append(errs, fmt.Errorf("band: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) accessTable() (map[string]miband.Access, error) {
	if len(c.Session.Access) == 0 {
		return nil, nil
	}
	table := make(map[string]miband.Access, len(c.Session.Access))
	for cmd, v := range c.Session.Access {
		a, err := miband.ParseAccess(v)
		if err != nil {
			return nil, fmt.Errorf("session.access.%s: %w", cmd, err)
		}
		table[cmd] = a
	}
	return table, nil
}

// SessionOptions converts the session section into miband.Options.
func (c *Config) SessionOptions() (miband.Options, error) {
	access, err := c.accessTable()
	if err != nil {
		return miband.Options{}, err
	}
	s := c.Session
	return miband.Options{
		ConnectTimeout:        s.ConnectTimeout,
		ReconnectBackoff:      s.ReconnectBackoff,
		MaxConnectAttempts:    s.MaxConnectAttempts,
		RequestTimeout:        s.RequestTimeout,
		AuthStepTimeout:       s.AuthStepTimeout,
		HeartRateTimeout:      s.HeartRateTimeout,
		PollInterval:          s.PollInterval,
		HeartRatePingInterval: s.HeartRatePingInterval,
		FirmwareSettle:        s.FirmwareSettle,
		PulseOnConnect:        s.PulseOnConnect,
		AlertTitle:            s.AlertTitle,
		Access:                access,
	}, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
