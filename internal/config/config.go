// Package config loads quill's settings.
//
// Sources, highest precedence first:
//  1. QUILL_* environment variables (QUILL_SUMMARIZER_PROVIDER for summarizer.provider)
//  2. a .env file in the working directory
//  3. the config file (--config, or ~/.quill/config.yaml)
//  4. built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const envPrefix = "QUILL"

// MetadataConfig selects the metadata store.
type MetadataConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite postgres"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// BlobConfig selects the audio blob store.
type BlobConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver" validate:"oneof=fs s3"`
	Root            string `mapstructure:"root" yaml:"root"`
	PublicBaseURL   string `mapstructure:"public_base_url" yaml:"public_base_url" validate:"omitempty,url"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Driver s3"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// SummarizerConfig selects the summary backend. TranscribeAPIKey lets the
// anthropic provider transcribe audio through OpenAI first.
type SummarizerConfig struct {
	Provider         string        `mapstructure:"provider" validate:"oneof=mock anthropic openai"`
	Model            string        `mapstructure:"model"`
	APIKey           string        `mapstructure:"api_key" validate:"required_unless=Provider mock"`
	TranscribeAPIKey string        `mapstructure:"transcribe_api_key"`
	Delay            time.Duration `mapstructure:"delay" validate:"gte=0"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// MarshalYAML writes durations in their string form so the file stays
// hand-editable.
func (s SummarizerConfig) MarshalYAML() (any, error) {
	return struct {
		Provider         string `yaml:"provider"`
		Model            string `yaml:"model"`
		APIKey           string `yaml:"api_key"`
		TranscribeAPIKey string `yaml:"transcribe_api_key"`
		Delay            string `yaml:"delay"`
		Timeout          string `yaml:"timeout"`
	}{s.Provider, s.Model, s.APIKey, s.TranscribeAPIKey, s.Delay.String(), s.Timeout.String()}, nil
}

// DeviceConfig points at the capture daemon.
type DeviceConfig struct {
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
}

// Config is quill's full configuration.
type Config struct {
	UserID     string           `mapstructure:"user_id" yaml:"user_id" validate:"omitempty,excludesall=/\\"`
	DataDir    string           `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	LogLevel   string           `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	Locale     string           `mapstructure:"locale" yaml:"locale" validate:"required,bcp47_language_tag"`
	Metadata   MetadataConfig   `mapstructure:"metadata" yaml:"metadata"`
	Blob       BlobConfig       `mapstructure:"blob" yaml:"blob"`
	Summarizer SummarizerConfig `mapstructure:"summarizer" yaml:"summarizer"`
	Device     DeviceConfig     `mapstructure:"device" yaml:"device"`
}

// DefaultDataDir is ~/.quill, or .quill when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quill"
	}
	return filepath.Join(home, ".quill")
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Default returns the configuration used when nothing is set: a local
// SQLite database, audio under the data dir and the offline summarizer.
func Default() Config {
	return Config{
		UserID:   "local",
		DataDir:  DefaultDataDir(),
		LogLevel: "info",
		Locale:   "en",
		Metadata: MetadataConfig{Driver: "sqlite"},
		Blob:     BlobConfig{Driver: "fs", Region: "us-east-1"},
		Summarizer: SummarizerConfig{
			Provider: "mock",
			Delay:    2 * time.Second,
			Timeout:  2 * time.Minute,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("user_id", d.UserID)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("locale", d.Locale)

	v.SetDefault("metadata.driver", d.Metadata.Driver)
	v.SetDefault("metadata.sqlite_path", "")
	v.SetDefault("metadata.postgres_dsn", "")

	v.SetDefault("blob.driver", d.Blob.Driver)
	v.SetDefault("blob.root", "")
	v.SetDefault("blob.public_base_url", "")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", d.Blob.Region)
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key_id", "")
	v.SetDefault("blob.secret_access_key", "")

	v.SetDefault("summarizer.provider", d.Summarizer.Provider)
	v.SetDefault("summarizer.model", "")
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.transcribe_api_key", "")
	v.SetDefault("summarizer.delay", d.Summarizer.Delay)
	v.SetDefault("summarizer.timeout", d.Summarizer.Timeout)

	v.SetDefault("device.socket_path", "")
}

// Load reads configPath (DefaultPath when empty), applies .env files and
// QUILL_* overrides, and validates the result. A missing config file is not
// an error. envFiles defaults to .env in the working directory.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = DefaultPath()
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderKeys()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyProviderKeys falls back to the providers' conventional variables.
func (c *Config) applyProviderKeys() {
	if c.Summarizer.APIKey == "" {
		switch c.Summarizer.Provider {
		case "anthropic":
			c.Summarizer.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			c.Summarizer.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Summarizer.TranscribeAPIKey == "" && c.Summarizer.Provider == "anthropic" {
		c.Summarizer.TranscribeAPIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func (c *Config) resolvePaths() {
	if strings.HasPrefix(c.DataDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, c.DataDir[2:])
		}
	}
	if c.Metadata.SQLitePath == "" {
		c.Metadata.SQLitePath = filepath.Join(c.DataDir, "quill.db")
	}
	if c.Blob.Root == "" {
		c.Blob.Root = filepath.Join(c.DataDir, "recordings")
	}
}

// Validate checks the struct rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Language returns the parsed locale, falling back to English.
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

// LogPath is where the TUI writes its log.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "quill.log")
}

// SpoolDir holds finished captures until they are saved.
func (c *Config) SpoolDir() string {
	return filepath.Join(c.DataDir, "spool")
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
