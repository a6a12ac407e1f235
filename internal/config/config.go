// Package config loads the relay settings from defaults, an optional YAML
// file and NYXSIGNAL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/nyxsignal"
	"github.com/luciancaetano/nyxsignal/internal/bridge"
	"github.com/luciancaetano/nyxsignal/internal/logging"
)

const (
	envAddr                 = "NYXSIGNAL_ADDR"
	envPort                 = "PORT"
	envMaxMessageBytes      = "NYXSIGNAL_MAX_MESSAGE_BYTES"
	envRateLimitMessages    = "NYXSIGNAL_RATE_LIMIT_MESSAGES"
	envRateLimitWindow      = "NYXSIGNAL_RATE_LIMIT_WINDOW"
	envHeartbeatInterval    = "NYXSIGNAL_HEARTBEAT_INTERVAL"
	envSendQueueSize        = "NYXSIGNAL_SEND_QUEUE_SIZE"
	envWriteTimeout         = "NYXSIGNAL_WRITE_TIMEOUT"
	envMaxUpgradesPerSecond = "NYXSIGNAL_MAX_UPGRADES_PER_SECOND"
	envUpgradeBurst         = "NYXSIGNAL_UPGRADE_BURST"
	envAllowedOrigins       = "NYXSIGNAL_ALLOWED_ORIGINS"
	envTrustProxyHeaders    = "NYXSIGNAL_TRUST_PROXY_HEADERS"
	envBridgeURL            = "NYXSIGNAL_BRIDGE_URL"
	envBridgeChannel        = "NYXSIGNAL_BRIDGE_CHANNEL"
	envLogLevel             = "NYXSIGNAL_LOG_LEVEL"
	envLogFormat            = "NYXSIGNAL_LOG_FORMAT"
)

const defaultAddr = ":8080"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Addr string `yaml:"addr"`

	MaxMessageBytes   int           `yaml:"max_message_bytes"`
	RateLimitMessages int           `yaml:"rate_limit_messages"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SendQueueSize     int           `yaml:"send_queue_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`

	MaxUpgradesPerSecond float64 `yaml:"max_upgrades_per_second"`
	UpgradeBurst         int     `yaml:"upgrade_burst"`

	// AllowedOrigins lists the Origin header values accepted on upgrade.
	// Empty allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TrustProxyHeaders takes client addresses from X-Forwarded-For and
	// X-Real-IP. Set it only behind a reverse proxy.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	// BridgeURL enables cross-instance fanout when set.
	BridgeURL     string `yaml:"bridge_url"`
	BridgeChannel string `yaml:"bridge_channel"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		Addr:                 defaultAddr,
		MaxMessageBytes:      nyxsignal.DefaultMaxMessageBytes,
		RateLimitMessages:    nyxsignal.DefaultRateLimitMessages,
		RateLimitWindow:      nyxsignal.DefaultRateLimitWindow,
		HeartbeatInterval:    nyxsignal.DefaultHeartbeatInterval,
		SendQueueSize:        nyxsignal.DefaultSendQueueSize,
		WriteTimeout:         nyxsignal.DefaultWriteTimeout,
		MaxUpgradesPerSecond: 50,
		UpgradeBurst:         100,
		BridgeChannel:        bridge.DefaultChannel,
		LogLevel:             "info",
		LogFormat:            logging.FormatJSON,
	}
}

// Load starts from Default, applies the YAML file at path (skipped when path
// is empty) and then the environment read through getenv (os.Getenv when
// nil). The result is validated.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}

	if port := getenv(envPort); port != "" {
		c.Addr = ":" + port
	}
	c.Addr = e.str(envAddr, c.Addr)
	c.MaxMessageBytes = e.int(envMaxMessageBytes, c.MaxMessageBytes)
	c.RateLimitMessages = e.int(envRateLimitMessages, c.RateLimitMessages)
	c.RateLimitWindow = e.duration(envRateLimitWindow, c.RateLimitWindow)
	c.HeartbeatInterval = e.duration(envHeartbeatInterval, c.HeartbeatInterval)
	c.SendQueueSize = e.int(envSendQueueSize, c.SendQueueSize)
	c.WriteTimeout = e.duration(envWriteTimeout, c.WriteTimeout)
	c.MaxUpgradesPerSecond = e.float(envMaxUpgradesPerSecond, c.MaxUpgradesPerSecond)
	c.UpgradeBurst = e.int(envUpgradeBurst, c.UpgradeBurst)
	c.AllowedOrigins = e.csv(envAllowedOrigins, c.AllowedOrigins)
	c.TrustProxyHeaders = e.bool(envTrustProxyHeaders, c.TrustProxyHeaders)
	c.BridgeURL = e.str(envBridgeURL, c.BridgeURL)
	c.BridgeChannel = e.str(envBridgeChannel, c.BridgeChannel)
	c.LogLevel = e.str(envLogLevel, c.LogLevel)
	c.LogFormat = e.str(envLogFormat, c.LogFormat)

	return errors.Join(e.errs...)
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Addr != "", "addr must not be empty")
	check(c.MaxMessageBytes > 0, "max_message_bytes must be positive, got %d", c.MaxMessageBytes)
	check(c.RateLimitMessages > 0, "rate_limit_messages must be positive, got %d", c.RateLimitMessages)
	check(c.RateLimitWindow > 0, "rate_limit_window must be positive, got %s", c.RateLimitWindow)
	check(c.HeartbeatInterval > 0, "heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	check(c.SendQueueSize > 0, "send_queue_size must be positive, got %d", c.SendQueueSize)
	check(c.WriteTimeout > 0, "write_timeout must be positive, got %s", c.WriteTimeout)
	check(c.MaxUpgradesPerSecond >= 0, "max_upgrades_per_second must not be negative, got %g", c.MaxUpgradesPerSecond)
	check(c.UpgradeBurst >= 0, "upgrade_burst must not be negative, got %d", c.UpgradeBurst)
	if c.BridgeURL != "" {
		check(c.BridgeChannel != "", "bridge_channel must not be empty when bridge_url is set")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatJSON, logging.FormatConsole, "text":
	default:
		check(false, "log_format must be json or console, got %q", c.LogFormat)
	}

	return errors.Join(errs...)
}

// envReader collects parse errors so they can be reported together.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v))
		return def
	}
	return i
}

func (e *envReader) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v))
		return def
	}
	return f
}

func (e *envReader) bool(key string, def bool) bool {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, key, v))
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, v))
		return def
	}
	return d
}

func (e *envReader) csv(key string, def []string) []string {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) > 0 {
		return out
	}
	return def
}
