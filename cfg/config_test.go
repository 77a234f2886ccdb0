package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetConfig() {
	Config.Kafka = KafkaConfiguration{
		BootstrapServers: []string{"localhost:9092"},
		Topic:            "_schemas",
		Partition:        0,
		DialTimeoutMS:    10000,
		PollTimeoutMS:    1000,
		MaxBatchBytes:    10 << 20,
	}
	Config.Reader = ReaderConfiguration{
		RetryBackoffMS:    500,
		MaxBackoffMS:      30000,
		StartupTimeoutSec: 120,
	}
	Config.HTTP = HTTPConfiguration{
		Enabled:       true,
		BindAddress:   "0.0.0.0",
		Port:          8081,
		SchemaCacheSz: 1024,
	}
	Config.Master = MasterConfiguration{Eligibility: true}
	Config.NodeID = 1
	Config.Kafka.ClientID = ""
}

func TestValidateDefaults(t *testing.T) {
	resetConfig()
	assert.NoError(t, Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func()
	}{
		{"no brokers", func() { Config.Kafka.BootstrapServers = nil }},
		{"empty topic", func() { Config.Kafka.Topic = "" }},
		{"negative partition", func() { Config.Kafka.Partition = -1 }},
		{"zero poll timeout", func() { Config.Kafka.PollTimeoutMS = 0 }},
		{"bad http port", func() { Config.HTTP.Port = 70000 }},
		{"zero cache size", func() { Config.HTTP.SchemaCacheSz = 0 }},
		{"zero retry backoff", func() { Config.Reader.RetryBackoffMS = 0 }},
		{"max backoff below retry", func() { Config.Reader.MaxBackoffMS = 100; Config.Reader.RetryBackoffMS = 200 }},
		{"zero startup timeout", func() { Config.Reader.StartupTimeoutSec = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resetConfig()
			tc.mutate()
			assert.Error(t, Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	resetConfig()

	content := `
node_id = 42

[kafka]
bootstrap_servers = ["broker-1:9092", "broker-2:9092"]
topic = "_schemas_test"
partition = 0

[reader]
retry_backoff_ms = 250
max_backoff_ms = 5000
startup_timeout_sec = 30

[http]
enabled = false
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, Load(path))

	assert.Equal(t, uint64(42), Config.NodeID)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, Config.Kafka.BootstrapServers)
	assert.Equal(t, "_schemas_test", Config.Kafka.Topic)
	assert.Equal(t, 250, Config.Reader.RetryBackoffMS)
	assert.False(t, Config.HTTP.Enabled)
	assert.Equal(t, "karapace-42", Config.Kafka.ClientID)
	assert.NoError(t, Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	resetConfig()
	Config.NodeID = 7

	require.NoError(t, Load(filepath.Join(t.TempDir(), "nope.toml")))
	assert.Equal(t, "_schemas", Config.Kafka.Topic)
	assert.Equal(t, "karapace-7", Config.Kafka.ClientID)
}
