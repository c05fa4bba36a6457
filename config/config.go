package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sergioferragut/from-kafka-to-polaris/batcher"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is everything the agent needs. Values come from an optional YAML
// file and are then overridden by the environment (a .env file in the
// working directory is loaded into the environment first).
type Config struct {
	Polaris Polaris `yaml:"polaris"`
	Push    Push    `yaml:"push"`
	Kafka   Kafka   `yaml:"kafka"`
	Agent   Agent   `yaml:"agent"`
}

// Polaris holds credentials and endpoints.
type Polaris struct {
	Org              string `yaml:"org"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	TableID          string `yaml:"table_id"`
	APIHost          string `yaml:"api_host"`
	TokenURLTemplate string `yaml:"token_url_template"`
}

// Push tunes batching and delivery.
type Push struct {
	MaxBatchBytes     int              `yaml:"max_batch_bytes"`
	MaxConcurrency    int              `yaml:"max_concurrency"`
	Strategy          batcher.Strategy `yaml:"strategy"`
	RequestTimeout    time.Duration    `yaml:"request_timeout"`
	RequestsPerSecond float64          `yaml:"requests_per_second"`
	Compress          bool             `yaml:"compress"`
}

// Kafka is the event source.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Agent tunes the pipeline around the push client.
type Agent struct {
	MicroBatchEvents   int           `yaml:"micro_batch_events"`
	MicroBatchInterval time.Duration `yaml:"micro_batch_interval"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	DeadLetterPath     string        `yaml:"dead_letter_path"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
}

// Default returns the built in defaults.
func Default() Config {
	return Config{
		Polaris: Polaris{
			APIHost: "api.imply.io",
		},
		Push: Push{
			MaxBatchBytes:  batcher.DefaultMaxBatchBytes,
			MaxConcurrency: 5,
			Strategy:       batcher.StrategyCount,
			RequestTimeout: 30 * time.Second,
		},
		Kafka: Kafka{
			GroupID: "polaris-push",
		},
		Agent: Agent{
			MicroBatchEvents:   1000,
			MicroBatchInterval: 5 * time.Second,
			RetryAttempts:      3,
			MetricsAddr:        ":9090",
			LogLevel:           "info",
			LogFormat:          "json",
		},
	}
}

// Load builds a Config. path names a YAML file; when empty, CONFIG_FILE is
// used, and when that is empty too only defaults and environment apply.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var result *multierror.Error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("ORGNAME", &c.Polaris.Org)
	str("CLIENT_ID", &c.Polaris.ClientID)
	str("CLIENT_SECRET", &c.Polaris.ClientSecret)
	str("TABLE_ID", &c.Polaris.TableID)
	str("API_HOST", &c.Polaris.APIHost)
	str("TOKEN_URL_TEMPLATE", &c.Polaris.TokenURLTemplate)

	integer("MAX_BATCH_BYTES", &c.Push.MaxBatchBytes)
	integer("MAX_CONCURRENCY", &c.Push.MaxConcurrency)
	if v, ok := lookup("BATCH_STRATEGY"); ok && v != "" {
		c.Push.Strategy = batcher.Strategy(v)
	}
	duration("REQUEST_TIMEOUT", &c.Push.RequestTimeout)
	float("REQUESTS_PER_SECOND", &c.Push.RequestsPerSecond)
	boolean("COMPRESS", &c.Push.Compress)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("KAFKA_GROUP_ID", &c.Kafka.GroupID)

	integer("MICRO_BATCH_EVENTS", &c.Agent.MicroBatchEvents)
	duration("MICRO_BATCH_INTERVAL", &c.Agent.MicroBatchInterval)
	integer("RETRY_ATTEMPTS", &c.Agent.RetryAttempts)
	str("DEAD_LETTER_PATH", &c.Agent.DeadLetterPath)
	str("METRICS_ADDR", &c.Agent.MetricsAddr)
	str("LOG_LEVEL", &c.Agent.LogLevel)
	str("LOG_FORMAT", &c.Agent.LogFormat)

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Validate reports every problem at once. Kafka settings are checked by
// the Kafka source itself since a file source does not need them.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Polaris.Org == "" {
		add("ORGNAME is required")
	}
	if c.Polaris.ClientID == "" {
		add("CLIENT_ID is required")
	}
	if c.Polaris.ClientSecret == "" {
		add("CLIENT_SECRET is required")
	}
	if c.Polaris.TableID == "" {
		add("TABLE_ID is required")
	}
	if c.Push.MaxBatchBytes < 1 {
		add("max batch bytes must be at least 1, got %d", c.Push.MaxBatchBytes)
	}
	if c.Push.MaxConcurrency < 1 {
		add("max concurrency must be at least 1, got %d", c.Push.MaxConcurrency)
	}
	if s, err := batcher.ParseStrategy(string(c.Push.Strategy)); err != nil {
		add("%v", err)
	} else {
		c.Push.Strategy = s
	}
	if c.Push.RequestTimeout < 0 {
		add("request timeout must not be negative")
	}
	if c.Push.RequestsPerSecond < 0 {
		add("requests per second must not be negative")
	}
	if c.Agent.MicroBatchEvents < 1 {
		add("micro batch events must be at least 1, got %d", c.Agent.MicroBatchEvents)
	}
	if c.Agent.MicroBatchInterval <= 0 {
		add("micro batch interval must be positive")
	}
	if c.Agent.RetryAttempts < 0 {
		add("retry attempts must not be negative")
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
