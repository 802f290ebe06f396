package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CHATSTREAM_"

type Config struct {
	Port              int           `yaml:"port"`
	Path              string        `yaml:"path"`
	MaxConnections    int           `yaml:"max_connections"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	AuthTimeout       time.Duration `yaml:"auth_timeout"`
	// MessageQueueSize bounds each connection's outbound backlog.
	MessageQueueSize int           `yaml:"message_queue_size"`
	MaxChunkSize     int           `yaml:"max_chunk_size"`
	ChunkDelay       time.Duration `yaml:"chunk_delay"`
	ResponseTimeout  time.Duration `yaml:"response_timeout"`
	HistoryLimit     int           `yaml:"history_limit"`
	// RateLimit is inbound frames per second per connection; 0 disables it.
	RateLimit      float64        `yaml:"rate_limit"`
	RateBurst      int            `yaml:"rate_burst"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	SigningSecret  string         `yaml:"signing_key"`
	SigningKey     []byte         `yaml:"-"`
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"`
	Producer       ProducerConfig `yaml:"producer"`
}

type ProducerConfig struct {
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Region       string `yaml:"region"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Enabled reports whether enough is configured to reach a chat model.
func (p ProducerConfig) Enabled() bool {
	return p.Model != "" && p.APIKey != ""
}

func Default() *Config {
	return &Config{
		Port:              8080,
		Path:              "/ws",
		MaxConnections:    1000,
		HeartbeatInterval: 30 * time.Second,
		AuthTimeout:       10 * time.Second,
		MessageQueueSize:  100,
		MaxChunkSize:      5,
		ChunkDelay:        50 * time.Millisecond,
		HistoryLimit:      20,
		RateLimit:         10,
		RateBurst:         20,
		LogLevel:          "info",
		LogFormat:         "console",
		Producer: ProducerConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			Region:  "cn-beijing",
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays CHATSTREAM_* environment variables onto cfg.
func (c *Config) ApplyEnv() error {
	ints := map[string]*int{
		"PORT":               &c.Port,
		"MAX_CONNECTIONS":    &c.MaxConnections,
		"MESSAGE_QUEUE_SIZE": &c.MessageQueueSize,
		"MAX_CHUNK_SIZE":     &c.MaxChunkSize,
		"HISTORY_LIMIT":      &c.HistoryLimit,
		"RATE_BURST":         &c.RateBurst,
	}
	for key, dst := range ints {
		v, err := parseOptionalIntEnv(envPrefix + key)
		if err != nil {
			return err
		}
		if v != nil {
			*dst = *v
		}
	}

	durations := map[string]*time.Duration{
		"HEARTBEAT_INTERVAL": &c.HeartbeatInterval,
		"AUTH_TIMEOUT":       &c.AuthTimeout,
		"CHUNK_DELAY":        &c.ChunkDelay,
		"RESPONSE_TIMEOUT":   &c.ResponseTimeout,
	}
	for key, dst := range durations {
		v, err := parseOptionalDurationEnv(envPrefix + key)
		if err != nil {
			return err
		}
		if v != nil {
			*dst = *v
		}
	}

	rate, err := parseOptionalFloatEnv(envPrefix + "RATE_LIMIT")
	if err != nil {
		return err
	}
	if rate != nil {
		c.RateLimit = *rate
	}

	strs := map[string]*string{
		"PATH":                   &c.Path,
		"SIGNING_KEY":            &c.SigningSecret,
		"LOG_LEVEL":              &c.LogLevel,
		"LOG_FORMAT":             &c.LogFormat,
		"PRODUCER_MODEL":         &c.Producer.Model,
		"PRODUCER_API_KEY":       &c.Producer.APIKey,
		"PRODUCER_BASE_URL":      &c.Producer.BaseURL,
		"PRODUCER_REGION":        &c.Producer.Region,
		"PRODUCER_SYSTEM_PROMPT": &c.Producer.SystemPrompt,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(os.Getenv(envPrefix + "ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	return nil
}

// Validate checks limits and decodes the signing secret into SigningKey.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", c.Path)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("auth timeout must be positive")
	}
	if c.MessageQueueSize <= 0 {
		return fmt.Errorf("message queue size must be positive")
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("max chunk size must be positive")
	}
	if c.ChunkDelay < 0 || c.ResponseTimeout < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit cannot be negative")
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}

	key, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = key

	return nil
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	return key, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOptionalIntEnv(key string) (*int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
