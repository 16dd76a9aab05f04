package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// PropertySource exposes flat, dotted configuration properties
// (e.g. "sessiond.maxIdleTime").
type PropertySource interface {
	Property(key string) (string, bool)
}

// Properties is a static PropertySource.
type Properties map[string]string

// Property implements PropertySource.
func (p Properties) Property(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// StoreConfig selects and tunes the backing map.
type StoreConfig struct {
	Backend        string        `mapstructure:"backend"`
	Node           string        `mapstructure:"node"`
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
	Tracing        bool          `mapstructure:"tracing"`
	MaskParameters []string      `mapstructure:"mask_parameters"`
}

// RedisConfig holds the connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// EncryptionConfig holds base64 encoded AES-256 keys for password encryption at rest.
// Encryption is disabled when ActiveKey is empty.
type EncryptionConfig struct {
	ActiveKey    string   `mapstructure:"active_key"`
	FallbackKeys []string `mapstructure:"fallback_keys"`
}

// Enabled reports whether an active key is configured.
func (e EncryptionConfig) Enabled() bool {
	return e.ActiveKey != ""
}

// Keys decodes the configured keys.
func (e EncryptionConfig) Keys() ([]byte, [][]byte, error) {
	active, err := base64.StdEncoding.DecodeString(e.ActiveKey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid active_key: %w", err)
	}
	fallback := make([][]byte, 0, len(e.FallbackKeys))
	for i, k := range e.FallbackKeys {
		key, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

// ServerConfig configures the metrics/health listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// Config is the decoded configuration file.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Server     ServerConfig     `mapstructure:"server"`

	properties Properties
}

// Default returns a memory-backed configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:   "memory",
			Node:      "local",
			OpTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "sessiond:session:",
		},
		Server: ServerConfig{
			Listen: ":9090",
		},
		properties: Properties{},
	}
}

// Load reads a YAML configuration file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return FromMap(raw)
}

// FromMap decodes an already parsed document on top of Default.
func FromMap(raw map[string]any) (*Config, error) {
	cfg := Default()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       timespanHook,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	flatten("", raw, cfg.properties)
	return cfg, nil
}

// Property implements PropertySource over every scalar value of the document.
func (c *Config) Property(key string) (string, bool) {
	return c.properties.Property(key)
}

// SetProperty overrides a single property.
func (c *Config) SetProperty(key, value string) {
	if c.properties == nil {
		c.properties = Properties{}
	}
	c.properties[key] = value
}

// PropertyKeys returns the known property keys in order.
func (c *Config) PropertyKeys() []string {
	keys := make([]string, 0, len(c.properties))
	for k := range c.properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// timespanHook decodes shorthand strings ("2H", "1W") into time.Duration.
func timespanHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.String {
		return data, nil
	}
	return ParseTimespan(data.(string))
}

func flatten(prefix string, in map[string]any, out Properties) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
