// Package config loads panels settings from defaults, an optional TOML file
// and PANELS_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/metcalfc/panels/internal/state"
)

const envPrefix = "PANELS"

type Config struct {
	Library LibraryConfig `mapstructure:"library"`
	Covers  CoversConfig  `mapstructure:"covers"`
	Log     LogConfig     `mapstructure:"log"`
	TTS     TTSConfig     `mapstructure:"tts"`
}

type LibraryConfig struct {
	// Root is the folder opened when none is given on the command line.
	Root        string   `mapstructure:"root"`
	EPUB        bool     `mapstructure:"epub"`
	ExcludeDirs []string `mapstructure:"exclude_dirs"`
	// Watch rescans the library when files change.
	Watch bool `mapstructure:"watch"`
}

type CoversConfig struct {
	Workers int `mapstructure:"workers"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File is a path, or "stderr".
	File string `mapstructure:"file"`
}

type TTSConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Command overrides how the speech server is launched.
	Command []string `mapstructure:"command"`
	Engine  string   `mapstructure:"engine"`
}

// Dir returns XDG_CONFIG_HOME/panels or the platform config directory.
func Dir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "panels")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "panels")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "panels")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("library.root", "")
	v.SetDefault("library.epub", false)
	v.SetDefault("library.exclude_dirs", []string{".git", "@eaDir", "__MACOSX"})
	v.SetDefault("library.watch", true)
	v.SetDefault("covers.workers", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(state.Dir(), "panels.log"))
	v.SetDefault("tts.base_url", "http://127.0.0.1:9966")
	v.SetDefault("tts.command", []string{})
	v.SetDefault("tts.engine", "chattts")
}

// Load reads configuration. When path is empty, config.toml in Dir() is used
// if it exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(Dir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Covers.Workers < 1 {
		return fmt.Errorf("covers.workers must be at least 1, got %d", c.Covers.Workers)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.TTS.BaseURL == "" {
		return errors.New("tts.base_url must not be empty")
	}
	return nil
}
