// Package config loads mapperd's configuration from file, environment, and
// defaults (highest to lowest precedence: environment variables, then the
// configuration file, then defaults). CLI flags are not bound here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/archipelago/mapperd/internal/bytesize"
)

// Config is mapperd's static configuration: the map cache, the dispatcher's
// backing-store port, logging, and the metrics endpoint.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Dispatcher controls the cooperative worker loop: its incoming-request
	// buffer and the backing store's concurrency limit.
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`

	// BackingStore selects and configures the object store mapperd issues
	// READ, WRITE, and COPY requests against.
	BackingStore BackingStoreConfig `mapstructure:"backing_store" yaml:"backing_store"`

	// Metrics configures the Prometheus metrics HTTP endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds how long shutdown waits for the metrics HTTP
	// server to stop. The dispatcher loop stops at once on shutdown and
	// does not drain in-flight requests.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output encoding.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// DispatcherConfig controls the single cooperative worker loop.
type DispatcherConfig struct {
	// IncomingBuffer is loaded and validated but not passed to the
	// dispatcher: dispatcher.New always sizes the channel client requests
	// are submitted on at 64, whatever this field holds.
	// Default: 64
	IncomingBuffer int `mapstructure:"incoming_buffer" validate:"min=1" yaml:"incoming_buffer"`

	// MaxInFlight caps the number of backing-store requests (READ, COPY or WRITE)
	// the Port will have outstanding at once. Zero means unlimited, which
	// models a fabric with no handle exhaustion.
	// Default: 0
	MaxInFlight int `mapstructure:"max_in_flight" validate:"gte=0" yaml:"max_in_flight"`
}

// BackingStoreConfig selects the object store implementation and its
// connection parameters.
type BackingStoreConfig struct {
	// Kind selects the implementation.
	// Valid values: memory, s3.
	Kind string `mapstructure:"kind" validate:"required,oneof=memory s3" yaml:"kind"`

	// S3 configures the S3-backed store. Only read when Kind is "s3".
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3 backing store.
type S3Config struct {
	// Bucket is the S3 bucket objects are stored in.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region the bucket lives in.
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the default AWS endpoint, for S3-compatible stores.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to every object key, so multiple mapperd
	// deployments can share a bucket.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// ForcePathStyle requests path-style addressing instead of virtual-hosted
	// style, required by most non-AWS S3-compatible endpoints.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether the metrics server is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Addr is the listen address for the metrics HTTP server.
	// Default: ":9090"
	Addr string `mapstructure:"addr" yaml:"addr"`

	// CacheSize reports the in-process cache footprint limit, purely
	// advisory: mapcache has no eviction policy today.
	CacheSize bytesize.ByteSize `mapstructure:"cache_size" yaml:"cache_size,omitempty"`
}

// DefaultConfig returns a Config with every field set to its default value.
// It is what Load falls back to when no config file is found.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Dispatcher: DispatcherConfig{
			IncomingBuffer: 64,
			MaxInFlight:    0,
		},
		BackingStore: BackingStoreConfig{
			Kind: "memory",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load reads configuration from configPath (or the default location if
// empty), layers environment variable overrides on top, applies defaults
// for anything left unset, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Keys are registered with setDefaults above, so AutomaticEnv picks up
	// MAPPERD_* overrides here whether or not a config file was found.
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks cfg against its struct tags using a shared validator
// instance, plus the cross-field check struct tags can't express: an S3
// backing store requires a bucket name.
func Validate(cfg *Config) error {
	if err := validatorInstance.Struct(cfg); err != nil {
		return err
	}
	if cfg.BackingStore.Kind == "s3" && cfg.BackingStore.S3.Bucket == "" {
		return fmt.Errorf("config: backing_store.s3.bucket is required when backing_store.kind is \"s3\"")
	}
	return nil
}

var validatorInstance = validator.New(validator.WithRequiredStructEnabled())

// setDefaults registers every config key with viper so that AutomaticEnv
// can resolve MAPPERD_<SECTION>_<KEY> overrides even when no config file
// sets the key and no flag binds it. Keys mirror the mapstructure tags.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("dispatcher.incoming_buffer", d.Dispatcher.IncomingBuffer)
	v.SetDefault("dispatcher.max_in_flight", d.Dispatcher.MaxInFlight)

	v.SetDefault("backing_store.kind", d.BackingStore.Kind)
	v.SetDefault("backing_store.s3.bucket", d.BackingStore.S3.Bucket)
	v.SetDefault("backing_store.s3.region", d.BackingStore.S3.Region)
	v.SetDefault("backing_store.s3.endpoint", d.BackingStore.S3.Endpoint)
	v.SetDefault("backing_store.s3.key_prefix", d.BackingStore.S3.KeyPrefix)
	v.SetDefault("backing_store.s3.force_path_style", d.BackingStore.S3.ForcePathStyle)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.cache_size", d.Metrics.CacheSize)

	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
}

// setupViper wires environment variable overrides (MAPPERD_<SECTION>_<KEY>)
// and config file discovery.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("MAPPERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to read config file: %w", err)
	}
	return true, nil
}

// Save writes cfg to path in YAML form, creating parent directories as
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: failed to write config file: %w", err)
	}

	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mapperd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "mapperd")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(DefaultConfigPath())
	return err == nil
}

// decodeHooks combines the custom decode hooks mapstructure needs for
// fields that aren't plain strings, numbers, or bools.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize, so
// config files can use human-readable sizes like "1Gi" or "500MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, so config files can
// use human-readable durations like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
