// Package config resolves store credentials and loads runtime settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Wait modes applied before marking duplicates.
const (
	WaitPoll  = "poll"
	WaitDelay = "delay"
	WaitNone  = "none"
)

// Settings holds everything except credentials.
type Settings struct {
	Store       StoreSettings       `mapstructure:"store"`
	Credentials CredentialsSettings `mapstructure:"credentials"`
	Dedupe      DedupeSettings      `mapstructure:"dedupe"`
	Host        HostSettings        `mapstructure:"host"`
	Server      ServerSettings      `mapstructure:"server"`
	Log         LogSettings         `mapstructure:"log"`
}

type StoreSettings struct {
	TagService string        `mapstructure:"tag_service" validate:"required"`
	Timeout    time.Duration `mapstructure:"timeout"     validate:"gt=0"`
}

type CredentialsSettings struct {
	// File overrides the hydrus_api.txt location.
	File string `mapstructure:"file"`
}

type DedupeSettings struct {
	Wait WaitSettings `mapstructure:"wait"`
}

type WaitSettings struct {
	Mode     string        `mapstructure:"mode"     validate:"oneof=poll delay none"`
	Delay    time.Duration `mapstructure:"delay"    validate:"gte=0"`
	Interval time.Duration `mapstructure:"interval" validate:"required_if=Mode poll"`
	Timeout  time.Duration `mapstructure:"timeout"  validate:"required_if=Mode poll"`
}

type HostSettings struct {
	URL string `mapstructure:"url" validate:"required,url"`
	// Rate is the maximum number of prompts queued per second.
	Rate float64 `mapstructure:"rate" validate:"gt=0"`
}

type ServerSettings struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// InputDir resolves relative image paths given to the exporter.
	InputDir string `mapstructure:"input_dir"`
	// MaxBody caps request body size in bytes.
	MaxBody int64 `mapstructure:"max_body" validate:"gt=0"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Load reads settings from path (or ./hyd.yaml when path is empty), then
// applies HYD_* environment overrides and validates the result.
func Load(path string) (*Settings, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("hyd")
		vip.AddConfigPath(".")
	}
	vip.SetConfigType("yaml")
	vip.SetEnvPrefix("HYD")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()
	setDefaults(vip)

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
	}

	var s Settings
	if err := vip.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Default returns the settings used when no file or environment overrides exist.
func Default() *Settings {
	vip := viper.New()
	setDefaults(vip)
	var s Settings
	if err := vip.Unmarshal(&s); err != nil {
		panic(fmt.Sprintf("default settings: %v", err))
	}
	return &s
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("store.tag_service", "my tags")
	vip.SetDefault("store.timeout", 60*time.Second)
	vip.SetDefault("credentials.file", "")
	vip.SetDefault("dedupe.wait.mode", WaitPoll)
	vip.SetDefault("dedupe.wait.delay", 5*time.Second)
	vip.SetDefault("dedupe.wait.interval", 500*time.Millisecond)
	vip.SetDefault("dedupe.wait.timeout", 30*time.Second)
	vip.SetDefault("host.url", "http://127.0.0.1:8188")
	vip.SetDefault("host.rate", 2.0)
	vip.SetDefault("server.addr", ":8765")
	vip.SetDefault("server.input_dir", "")
	vip.SetDefault("server.max_body", 64<<20)
	vip.SetDefault("log.level", "info")
	vip.SetDefault("log.format", "text")
}

// Validate checks field constraints.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogSettings) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
