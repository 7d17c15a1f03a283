// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Backend         BackendConfig         `yaml:"backend"`
	DBPath          string                `yaml:"db_path"`
	AlarmTimezone   string                `yaml:"alarm_timezone"`
	ContextMode     string                `yaml:"context_update_mode"`
	Port            string                `yaml:"port"`
	AllowedOrigins  []string              `yaml:"allowed_origins"`
	GRPCHealthAddr  string                `yaml:"grpc_health_addr"`
	MQTT            MQTTConfig            `yaml:"mqtt"`
	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
	LogLevel        string                `yaml:"log_level"`
	LogFormat       string                `yaml:"log_format"`
}

// BackendConfig describes the assistant backend.
type BackendConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	ProtocolVersion int           `yaml:"protocol_version"`
}

// MQTTConfig enables the MQTT device bridge when Broker is set.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	DeviceName string `yaml:"device_name"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
}

// ConversationLogConfig controls the NDJSON transcript.
type ConversationLogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:             "http://localhost:8000/",
			Timeout:         30 * time.Second,
			ProtocolVersion: 2,
		},
		DBPath:         "./data/bai.db",
		AlarmTimezone:  "Asia/Manila",
		ContextMode:    "append",
		Port:           "8080",
		AllowedOrigins: []string{"*"},
		MQTT:           MQTTConfig{DeviceName: "bai"},
		ConversationLog: ConversationLogConfig{
			Dir:       "./data/logs/conversations",
			QueueSize: 256,
		},
		LogLevel: "info",
	}
}

// Load reads .env (if present), the YAML file named by BAI_CONFIG (if set)
// and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := getEnv("BAI_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Backend.URL = getEnv("BACKEND_URL", c.Backend.URL)
	c.Backend.Timeout = getEnvDuration("BACKEND_TIMEOUT", c.Backend.Timeout)
	c.Backend.ProtocolVersion = getEnvInt("PROTOCOL_VERSION", c.Backend.ProtocolVersion)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.AlarmTimezone = getEnv("ALARM_TIMEZONE", c.AlarmTimezone)
	c.ContextMode = getEnv("CONTEXT_UPDATE_MODE", c.ContextMode)
	c.Port = getEnv("PORT", c.Port)
	if origins, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(origins)
	}
	c.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.GRPCHealthAddr)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.DeviceName = getEnv("MQTT_DEVICE_NAME", c.MQTT.DeviceName)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an http(s) URL, got %q", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}
	if c.Backend.ProtocolVersion != 1 && c.Backend.ProtocolVersion != 2 {
		return fmt.Errorf("PROTOCOL_VERSION must be 1 or 2, got %d", c.Backend.ProtocolVersion)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("ALARM_TIMEZONE: %w", err)
	}
	if c.ContextMode != "append" && c.ContextMode != "replace" {
		return fmt.Errorf("CONTEXT_UPDATE_MODE must be append or replace, got %q", c.ContextMode)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// Location returns the zone alarm timestamps are converted into.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.AlarmTimezone)
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
