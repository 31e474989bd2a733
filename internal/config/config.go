// Package config loads process configuration from .env, a YAML file and the
// environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Singapore on hosts without a tz database

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when CONFIG_FILE is not set.
const DefaultFile = "config.yml"

// ErrMissingSecret is returned by RequireSecrets.
var ErrMissingSecret = errors.New("missing required secret")

// Config is the complete process configuration.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Model         ModelConfig         `yaml:"model"`
	LTA           LTAConfig           `yaml:"lta"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Cache         CacheConfig         `yaml:"cache"`
	Reply         ReplyConfig         `yaml:"reply"`
	Auth          AuthConfig          `yaml:"auth"`
	Events        EventsConfig        `yaml:"events"`
	Worker        WorkerConfig        `yaml:"worker"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Env          string `yaml:"env" validate:"required"`
	Port         int    `yaml:"port" validate:"min=1,max=65535"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogLevel     string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`

	// UserRequestsPerMinute limits chat requests per user at the HTTP edge.
	UserRequestsPerMinute int `yaml:"user_requests_per_minute" validate:"min=1"`
}

// ModelConfig configures the language model.
type ModelConfig struct {
	Name             string  `yaml:"name" validate:"required"`
	Temperature      float32 `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens        int     `yaml:"max_tokens" validate:"min=1,max=16384"`
	BaseURL          string  `yaml:"base_url" validate:"omitempty,url"`
	SystemPromptFile string  `yaml:"system_prompt_file"`
	APIKey           string  `yaml:"-"`
}

// LTAConfig configures the LTA DataMall gateway.
type LTAConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	BusArrivalPath    string        `yaml:"bus_arrival_path" validate:"required,startswith=/"`
	CarparkPath       string        `yaml:"carpark_path" validate:"required,startswith=/"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"min=1"`
	Timeout           time.Duration `yaml:"timeout" validate:"min=0"`
	APIKey            string        `yaml:"-"`
}

// ConversationsConfig configures history storage.
type ConversationsConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=memory file redis postgres"`
	Dir           string `yaml:"dir" validate:"required_if=Backend file"`
	MaxTurns      int    `yaml:"max_turns" validate:"min=1,max=100"`
	RetentionDays int    `yaml:"retention_days" validate:"min=1"`
	Timezone      string `yaml:"timezone" validate:"required"`
	RedisURL      string `yaml:"-"`
}

// CatalogConfig points at the bus stop catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig configures the gateway cache.
type CacheConfig struct {
	ArrivalTTL      time.Duration `yaml:"arrival_ttl" validate:"min=0"`
	CarparkTTL      time.Duration `yaml:"carpark_ttl" validate:"min=0"`
	StaleIfErrorTTL time.Duration `yaml:"stale_if_error_ttl" validate:"min=0"`
}

// ReplyConfig configures reply rendering.
type ReplyConfig struct {
	Markup string `yaml:"markup" validate:"oneof=plain html"`
}

// AuthConfig configures bearer-token auth for the HTTP API.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SigningKey string `yaml:"-"`
}

// EventsConfig configures the turn event bus.
type EventsConfig struct {
	NATSURL       string `yaml:"-"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// WorkerConfig configures the background worker.
type WorkerConfig struct {
	ProjectID      string `yaml:"-"`
	SubscriptionID string `yaml:"subscription"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Env:                   "development",
			Port:                  8080,
			LogLevel:              "info",
			OTelEndpoint:          "localhost:4317",
			UserRequestsPerMinute: 30,
		},
		Model: ModelConfig{
			Name:        "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   1000,
		},
		LTA: LTAConfig{
			BaseURL:           "https://datamall2.mytransport.sg/ltaodataservice",
			BusArrivalPath:    "/v3/BusArrival",
			CarparkPath:       "/CarParkAvailabilityv2",
			RequestsPerMinute: 60,
			Timeout:           10 * time.Second,
		},
		Conversations: ConversationsConfig{
			Backend:       "file",
			Dir:           "conversations",
			MaxTurns:      20,
			RetentionDays: 7,
			Timezone:      "Asia/Singapore",
		},
		Catalog: CatalogConfig{Path: "bus_stops.json"},
		Cache: CacheConfig{
			ArrivalTTL:      20 * time.Second,
			CarparkTTL:      time.Minute,
			StaleIfErrorTTL: 5 * time.Minute,
		},
		Reply:  ReplyConfig{Markup: "plain"},
		Events: EventsConfig{SubjectPrefix: "lepak.turns"},
		Worker: WorkerConfig{SubscriptionID: "lepak-jobs"},
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (default
// config.yml, optional) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = DefaultFile
	}
	return LoadFile(path)
}

// LoadFile is Load without .env, reading YAML from path. A missing file means
// built-in defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Conversations.Timezone); err != nil {
		return fmt.Errorf("invalid config: conversations.timezone: %w", err)
	}
	return nil
}

// RequireSecrets reports the first missing secret needed by the chat API.
func (c *Config) RequireSecrets() error {
	switch {
	case c.LTA.APIKey == "":
		return fmt.Errorf("%w: LTA_API_KEY", ErrMissingSecret)
	case c.Model.APIKey == "":
		return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingSecret)
	case c.Auth.Enabled && c.Auth.SigningKey == "":
		return fmt.Errorf("%w: JWT_SIGNING_KEY", ErrMissingSecret)
	case c.Conversations.Backend == "redis" && c.Conversations.RedisURL == "":
		return fmt.Errorf("%w: REDIS_URL", ErrMissingSecret)
	}
	return nil
}

// Location returns the conversation timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Conversations.Timezone)
	if err != nil {
		return time.FixedZone("SGT", 8*60*60)
	}
	return loc
}

func (c *Config) applyEnv() error {
	setString(&c.App.Env, "APP_ENV")
	setString(&c.App.MetricsAddr, "METRICS_ADDR")
	setString(&c.App.LogLevel, "LOG_LEVEL")
	setString(&c.App.OTelEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Model.Name, "MODEL_NAME")
	setString(&c.Model.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Model.APIKey, "OPENAI_API_KEY")
	setString(&c.LTA.APIKey, "LTA_API_KEY")
	setString(&c.Conversations.Backend, "CONVERSATIONS_BACKEND")
	setString(&c.Conversations.RedisURL, "REDIS_URL")
	setString(&c.Auth.SigningKey, "JWT_SIGNING_KEY")
	setString(&c.Events.NATSURL, "NATS_URL")
	setString(&c.Worker.ProjectID, "PUBSUB_PROJECT_ID")
	setString(&c.Worker.SubscriptionID, "PUBSUB_SUBSCRIPTION")
	c.App.LogLevel = strings.ToLower(c.App.LogLevel)

	if v := os.Getenv("APP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid APP_PORT: %q", v)
		}
		c.App.Port = port
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.App.OTelEnabled = parseBool(v)
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		c.Auth.Enabled = parseBool(v)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
