// Package config loads the rescue-sync configuration from an optional YAML
// file, an optional .env file and RESCUE_* environment variables, in that
// order of increasing precedence.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendPebble = "pebble"
)

// Config is the complete configuration document.
type Config struct {
	API     API     `yaml:"api" json:"api"`
	Log     Log     `yaml:"log" json:"log"`
	Storage Storage `yaml:"storage" json:"storage"`
	Relay   Relay   `yaml:"relay" json:"relay"`
	HTTP    HTTP    `yaml:"http" json:"http"`
}

// API describes the rescue API endpoint.
type API struct {
	Host   string `yaml:"host" json:"host" env:"RESCUE_API_HOST" jsonschema:"description=host[:port] of the rescue API"`
	Token  string `yaml:"token" json:"token,omitempty" env:"RESCUE_API_TOKEN" jsonschema:"description=bearer token sent when connecting"`
	Secure bool   `yaml:"secure" json:"secure,omitempty" env:"RESCUE_API_SECURE" jsonschema:"description=use wss instead of ws"`
	// Version pins one API version. Empty negotiates the newest supported.
	Version         string        `yaml:"version" json:"version,omitempty" env:"RESCUE_API_VERSION" jsonschema:"description=pin v2.0 or v2.1; empty negotiates"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout,omitempty" env:"RESCUE_API_TIMEOUT" jsonschema:"description=per-request deadline"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay" json:"reconnect_delay,omitempty" env:"RESCUE_API_RECONNECT_DELAY"`
	LegacyHandshake bool          `yaml:"legacy_handshake" json:"legacy_handshake,omitempty" env:"RESCUE_API_LEGACY_HANDSHAKE"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit,omitempty" env:"RESCUE_API_RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst,omitempty" env:"RESCUE_API_RATE_BURST"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" json:"level" env:"RESCUE_LOG_LEVEL" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `yaml:"format" json:"format" env:"RESCUE_LOG_FORMAT" jsonschema:"enum=text,enum=json"`
}

// Storage selects where board snapshots are kept.
type Storage struct {
	Backend     string        `yaml:"backend" json:"backend" env:"RESCUE_STORAGE_BACKEND" jsonschema:"enum=memory,enum=redis,enum=pebble"`
	TTL         time.Duration `yaml:"ttl" json:"ttl,omitempty" env:"RESCUE_STORAGE_TTL"`
	MemorySize  int           `yaml:"memory_size" json:"memory_size,omitempty" env:"RESCUE_STORAGE_MEMORY_SIZE"`
	RedisAddr   string        `yaml:"redis_addr" json:"redis_addr,omitempty" env:"RESCUE_STORAGE_REDIS_ADDR"`
	RedisPrefix string        `yaml:"redis_prefix" json:"redis_prefix,omitempty" env:"RESCUE_STORAGE_REDIS_PREFIX"`
	PebblePath  string        `yaml:"pebble_path" json:"pebble_path,omitempty" env:"RESCUE_STORAGE_PEBBLE_PATH"`
}

// Relay configures downstream change publishing.
type Relay struct {
	// AMQPURL enables publishing to RabbitMQ when set.
	AMQPURL     string `yaml:"amqp_url" json:"amqp_url,omitempty" env:"RESCUE_RELAY_AMQP_URL"`
	Exchange    string `yaml:"exchange" json:"exchange,omitempty" env:"RESCUE_RELAY_EXCHANGE"`
	Producer    string `yaml:"producer" json:"producer,omitempty" env:"RESCUE_RELAY_PRODUCER"`
	FeedHistory int    `yaml:"feed_history" json:"feed_history,omitempty" env:"RESCUE_RELAY_FEED_HISTORY"`
}

// HTTP configures the local status listener serving metrics, the board and
// the change feed. An empty address disables it.
type HTTP struct {
	Addr string `yaml:"addr" json:"addr,omitempty" env:"RESCUE_HTTP_ADDR"`
}

// Default returns the configuration used for anything not set elsewhere.
func Default() Config {
	return Config{
		API: API{
			Timeout:        6 * time.Second,
			ReconnectDelay: 5 * time.Second,
			RateBurst:      1,
		},
		Log:     Log{Level: "info", Format: "text"},
		Storage: Storage{Backend: BackendMemory, MemorySize: 64, RedisAddr: "localhost:6379", PebblePath: "rescue-sync.db"},
		Relay:   Relay{Exchange: "rescues", Producer: "rescue-sync", FeedHistory: 1024},
		HTTP:    HTTP{Addr: ":9090"},
	}
}

// Load builds a Config. path names an optional YAML file. envFiles are
// loaded into the environment without overriding variables already set;
// with none given, .env is loaded when present.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.Host) == "" {
		errs = append(errs, errors.New("api.host is required"))
	}
	switch c.API.Version {
	case "", "v2.0", "v2.1":
	default:
		errs = append(errs, fmt.Errorf("api.version %q is not supported", c.API.Version))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("api.reconnect_delay must be positive"))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for the redis backend"))
		}
	case BackendPebble:
		if c.Storage.PebblePath == "" {
			errs = append(errs, errors.New("storage.pebble_path is required for the pebble backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, redis, pebble", c.Storage.Backend))
	}
	if c.Storage.TTL < 0 {
		errs = append(errs, errors.New("storage.ttl must not be negative"))
	}
	if c.Relay.AMQPURL != "" && c.Relay.Exchange == "" {
		errs = append(errs, errors.New("relay.exchange is required when relay.amqp_url is set"))
	}
	return errors.Join(errs...)
}

// Schema returns the JSON schema of the configuration document.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(Config))
	s.Title = "rescue-sync configuration"
	return s
}

// SchemaJSON returns Schema as indented JSON.
func SchemaJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Schema()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
