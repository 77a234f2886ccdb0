package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// KafkaConfiguration controls access to the schemas topic
type KafkaConfiguration struct {
	BootstrapServers []string `toml:"bootstrap_servers"`
	Topic            string   `toml:"topic"`
	Partition        int      `toml:"partition"`
	ClientID         string   `toml:"client_id"` // Defaults to karapace-<node_id>
	DialTimeoutMS    int      `toml:"dial_timeout_ms"`
	PollTimeoutMS    int      `toml:"poll_timeout_ms"`
	MaxBatchBytes    int      `toml:"max_batch_bytes"`
}

// ReaderConfiguration controls the replay loop behavior
type ReaderConfiguration struct {
	RetryBackoffMS    int `toml:"retry_backoff_ms"`    // Backoff after a failed poll/watermark fetch
	MaxBackoffMS      int `toml:"max_backoff_ms"`      // Backoff ceiling
	StartupTimeoutSec int `toml:"startup_timeout_sec"` // Max time to reach READY before startup is fatal
}

// HTTPConfiguration for the read-only registry surface
type HTTPConfiguration struct {
	Enabled       bool   `toml:"enabled"`
	BindAddress   string `toml:"bind_address"`
	Port          int    `toml:"port"`
	SchemaCacheSz int    `toml:"schema_cache_size"` // LRU entries for serialized schema-by-id responses
}

// MasterConfiguration controls leadership status reported to the reader
type MasterConfiguration struct {
	Eligibility bool `toml:"eligibility"` // false forces permanent follower mode
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID uint64 `toml:"node_id"`

	Kafka      KafkaConfiguration      `toml:"kafka"`
	Reader     ReaderConfiguration     `toml:"reader"`
	HTTP       HTTPConfiguration       `toml:"http"`
	Master     MasterConfiguration     `toml:"master"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	BootstrapFlag  = flag.String("bootstrap-servers", "", "Comma-separated Kafka bootstrap servers (overrides config)")
	TopicFlag      = flag.String("topic", "", "Schemas topic (overrides config)")
	HTTPPortFlag   = flag.Int("http-port", 0, "HTTP port (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
)

// Default configuration
var Config = &Configuration{
	NodeID: 0, // Auto-generate

	Kafka: KafkaConfiguration{
		BootstrapServers: []string{"localhost:9092"},
		Topic:            "_schemas",
		Partition:        0,
		DialTimeoutMS:    10000,
		PollTimeoutMS:    1000,
		MaxBatchBytes:    10 << 20, // 10MB, matches broker default message.max.bytes headroom
	},

	Reader: ReaderConfiguration{
		RetryBackoffMS:    500,
		MaxBackoffMS:      30000,
		StartupTimeoutSec: 120,
	},

	HTTP: HTTPConfiguration{
		Enabled:       true,
		BindAddress:   "0.0.0.0",
		Port:          8081,
		SchemaCacheSz: 1024,
	},

	Master: MasterConfiguration{
		Eligibility: true,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *BootstrapFlag != "" {
		Config.Kafka.BootstrapServers = strings.Split(*BootstrapFlag, ",")
	}
	if *TopicFlag != "" {
		Config.Kafka.Topic = *TopicFlag
	}
	if *HTTPPortFlag != 0 {
		Config.HTTP.Port = *HTTPPortFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Derive client ID from node ID if not set
	if Config.Kafka.ClientID == "" {
		Config.Kafka.ClientID = fmt.Sprintf("karapace-%d", Config.NodeID)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("karapace")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if len(Config.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("at least one bootstrap server is required")
	}

	if Config.Kafka.Topic == "" {
		return fmt.Errorf("schemas topic must not be empty")
	}

	if Config.Kafka.Partition < 0 {
		return fmt.Errorf("invalid partition: %d", Config.Kafka.Partition)
	}

	if Config.Kafka.PollTimeoutMS < 1 {
		return fmt.Errorf("poll timeout must be >= 1ms")
	}

	if Config.Kafka.MaxBatchBytes < 1 {
		return fmt.Errorf("max batch bytes must be >= 1")
	}

	if Config.HTTP.Enabled && (Config.HTTP.Port < 1 || Config.HTTP.Port > 65535) {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	if Config.HTTP.SchemaCacheSz < 1 {
		return fmt.Errorf("schema cache size must be >= 1")
	}

	if Config.Reader.RetryBackoffMS < 1 {
		return fmt.Errorf("reader retry backoff must be >= 1ms")
	}

	if Config.Reader.MaxBackoffMS < Config.Reader.RetryBackoffMS {
		return fmt.Errorf("reader max backoff must be >= retry backoff")
	}

	if Config.Reader.StartupTimeoutSec < 1 {
		return fmt.Errorf("reader startup timeout must be >= 1 second")
	}

	return nil
}
