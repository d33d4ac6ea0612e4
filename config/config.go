// Package config loads panel settings from defaults, an optional .env file,
// an optional YAML file and PANEL_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/UrielAhumada/iot-frontend/client"
)

const (
	RoleControl = "control"
	RoleMonitor = "monitor"

	DefaultLocalURL  = "http://localhost:5500"
	DefaultPublicURL = "https://macroclimatic-earline-pseudoarchaically.ngrok-free.dev"

	// PublicHostMarker selects the public tunnel when it appears in the hosting hostname.
	PublicHostMarker = "github.io"
)

type Config struct {
	Role string `yaml:"role"`

	// BackendURL, when set, bypasses hostname based selection.
	BackendURL string `yaml:"backend_url"`
	PublicURL  string `yaml:"public_url"`
	LocalURL   string `yaml:"local_url"`
	Hostname   string `yaml:"hostname"`

	DeviceID int `yaml:"device_id"`
	ClientID int `yaml:"client_id"`

	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PollInterval   time.Duration `yaml:"poll_interval"` // 0 disables polling
	HistoryLimit   int           `yaml:"history_limit"`
	FeedRetention  int           `yaml:"feed_retention"`
	RateBuckets    int           `yaml:"rate_buckets"`
	RateInterval   time.Duration `yaml:"rate_interval"`

	HTTP HTTPConfig `yaml:"http"`
	MQTT MQTTConfig `yaml:"mqtt"`
	Log  LogConfig  `yaml:"log"`
}

type HTTPConfig struct {
	Listen     string        `yaml:"listen"` // empty disables the HTTP surface
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables the mirror
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Role:           RoleMonitor,
		PublicURL:      DefaultPublicURL,
		LocalURL:       DefaultLocalURL,
		DeviceID:       1,
		ClientID:       1,
		ReconnectDelay: client.DefaultReconnectDelay,
		PollInterval:   4 * time.Second,
		HistoryLimit:   10,
		FeedRetention:  50,
		RateBuckets:    10,
		RateInterval:   time.Minute,
		HTTP: HTTPConfig{
			RateLimit:  20,
			RateWindow: time.Second,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "panel",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"PANEL_ROLE":              &cfg.Role,
		"PANEL_BACKEND_URL":       &cfg.BackendURL,
		"PANEL_PUBLIC_URL":        &cfg.PublicURL,
		"PANEL_LOCAL_URL":         &cfg.LocalURL,
		"PANEL_HOSTNAME":          &cfg.Hostname,
		"PANEL_HTTP_LISTEN":       &cfg.HTTP.Listen,
		"PANEL_MQTT_BROKER":       &cfg.MQTT.Broker,
		"PANEL_MQTT_CLIENT_ID":    &cfg.MQTT.ClientID,
		"PANEL_MQTT_TOPIC_PREFIX": &cfg.MQTT.TopicPrefix,
		"PANEL_MQTT_USERNAME":     &cfg.MQTT.Username,
		"PANEL_MQTT_PASSWORD":     &cfg.MQTT.Password,
		"PANEL_LOG_LEVEL":         &cfg.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PANEL_DEVICE_ID":       &cfg.DeviceID,
		"PANEL_CLIENT_ID":       &cfg.ClientID,
		"PANEL_HISTORY_LIMIT":   &cfg.HistoryLimit,
		"PANEL_FEED_RETENTION":  &cfg.FeedRetention,
		"PANEL_RATE_BUCKETS":    &cfg.RateBuckets,
		"PANEL_HTTP_RATE_LIMIT": &cfg.HTTP.RateLimit,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"PANEL_RECONNECT_DELAY":  &cfg.ReconnectDelay,
		"PANEL_POLL_INTERVAL":    &cfg.PollInterval,
		"PANEL_RATE_INTERVAL":    &cfg.RateInterval,
		"PANEL_HTTP_RATE_WINDOW": &cfg.HTTP.RateWindow,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Role != RoleControl && c.Role != RoleMonitor {
		errs = append(errs, fmt.Errorf("role must be %q or %q, got %q", RoleControl, RoleMonitor, c.Role))
	}
	for name, raw := range map[string]string{"backend_url": c.BackendURL, "public_url": c.PublicURL, "local_url": c.LocalURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw))
		}
	}
	if c.BackendURL == "" && c.LocalURL == "" {
		errs = append(errs, errors.New("local_url is required when backend_url is empty"))
	}
	if c.DeviceID <= 0 || c.ClientID <= 0 {
		errs = append(errs, errors.New("device_id and client_id must be positive"))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnect_delay must be positive"))
	}
	if c.PollInterval < 0 {
		errs = append(errs, errors.New("poll_interval must not be negative"))
	}
	if c.HistoryLimit <= 0 || c.FeedRetention <= 0 || c.RateBuckets <= 0 {
		errs = append(errs, errors.New("history_limit, feed_retention and rate_buckets must be positive"))
	}
	if c.RateInterval <= 0 {
		errs = append(errs, errors.New("rate_interval must be positive"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}

// Backend returns the REST base address for this configuration.
func (c Config) Backend() string {
	if c.BackendURL != "" {
		return strings.TrimRight(c.BackendURL, "/")
	}
	return ResolveBackend(c.Hostname, c.PublicURL, c.LocalURL)
}

// ResolveBackend picks the public tunnel base for hostnames containing
// PublicHostMarker and the local base otherwise.
func ResolveBackend(hostname, public, local string) string {
	if public != "" && strings.Contains(hostname, PublicHostMarker) {
		return strings.TrimRight(public, "/")
	}
	return strings.TrimRight(local, "/")
}

// WebSocketURL derives the push endpoint from a REST base: http maps to ws, https to wss, path /ws.
func WebSocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid backend URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return client.NormalizeURL(u.String())
}
