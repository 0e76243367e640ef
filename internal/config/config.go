// Package config loads service settings from defaults, an optional YAML
// file and LICENSED_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const EnvPrefix = "LICENSED"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http" split_words:"true"`
	Store    StoreConfig    `yaml:"store" split_words:"true"`
	Seed     SeedConfig     `yaml:"seed" split_words:"true"`
	Telegram TelegramConfig `yaml:"telegram" split_words:"true"`
	Logging  LoggingConfig  `yaml:"logging" split_words:"true"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr" split_words:"true" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" split_words:"true" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gt=0"`
	AllowedOrigins    []string      `yaml:"allowed_origins" split_words:"true"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" split_words:"true" validate:"oneof=bbolt memory"`
	Path   string `yaml:"path" envconfig:"DB_PATH" validate:"required_if=Driver bbolt"`
}

type SeedConfig struct {
	Builtin bool   `yaml:"builtin" split_words:"true"`
	File    string `yaml:"file" split_words:"true"`
}

// TelegramConfig enables the admin bot when Token is set.
type TelegramConfig struct {
	Token       string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminChatID int64  `yaml:"admin_chat_id" envconfig:"ADMIN_CHAT_ID" validate:"required_with=Token"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" split_words:"true" validate:"oneof=json text"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			AllowedOrigins:    []string{"*"},
		},
		Store: StoreConfig{
			Driver: "bbolt",
			Path:   "./data/licensed.db",
		},
		Seed: SeedConfig{Builtin: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error. Environment variables need the LICENSED_ prefix,
// except DB_PATH, BOT_TOKEN and ADMIN_CHAT_ID which are also read bare.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
