package loner

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents loner runtime configuration.
type Config struct {
	// Number of keys per batch when sweeping a queue's locks (default: 500).
	// Applied through WithSweepBatchSize and the stores' scan batch options.
	ScanBatchSize int

	// Batch size for worker (default: 10).
	// Maximum number of jobs processed per poll.
	BatchSize int

	// Poll periodicity for worker (default: 1 second).
	PollInterval time.Duration
}

// LoadConfig loads configuration from environment variables.
// It reads the following environment variables:
//   - LONER_SCAN_BATCH_SIZE: Keys per sweep batch (default: 500)
//   - LONER_BATCH_SIZE: Batch size for worker (default: 10)
//   - LONER_POLL_INTERVAL: Worker poll interval (default: 1s)
//
// Duration values can be specified as:
//   - Integer number of seconds (e.g., "5" = 5 seconds)
//   - Duration string (e.g., "500ms", "1h30m")
//
// Returns a Config struct with default values if environment variables are not set.
func LoadConfig() *Config {
	cfg := &Config{
		ScanBatchSize: getEnvInt("LONER_SCAN_BATCH_SIZE", defaultScanBatchSize),
		BatchSize:     getEnvInt("LONER_BATCH_SIZE", 10),
		PollInterval:  getEnvDuration("LONER_POLL_INTERVAL", time.Second),
	}

	return cfg
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// registryFile is the YAML layout read by LoadRegistry:
//
//	types:
//	  - name: SendEmail
//	    queue: emails
//	    unique: true
//	    queue_ttl: forever
//	    post_execution_ttl: 300
type registryFile struct {
	Types []struct {
		Name             string `yaml:"name"`
		Queue            string `yaml:"queue"`
		Unique           bool   `yaml:"unique"`
		QueueTTL         TTL    `yaml:"queue_ttl"`
		PostExecutionTTL TTL    `yaml:"post_execution_ttl"`
	} `yaml:"types"`
}

// LoadRegistryFile reads job type declarations from a YAML file.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry file: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

// LoadRegistry reads job type declarations in YAML and registers each one as a TypeSpec.
// A queue_ttl left unset means forever; a post_execution_ttl left unset means release immediately.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var file registryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	registry := NewRegistry()
	for idx, t := range file.Types {
		if t.Name == "" {
			return nil, fmt.Errorf("registry entry %d has no name", idx)
		}
		spec := &TypeSpec{
			QueueName:   t.Queue,
			IsUnique:    t.Unique,
			LockTTL:     t.QueueTTL,
			CooldownTTL: t.PostExecutionTTL,
		}
		if err := registry.Register(t.Name, spec); err != nil {
			return nil, fmt.Errorf("registry entry %d: %w", idx, err)
		}
	}
	return registry, nil
}

// UnmarshalYAML accepts "forever" / "never" / "infinite", a number of seconds
// (negative means forever), or a duration string such as "5m".
func (t *TTL) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: ttl must be a scalar", node.Line)
	}
	value := strings.TrimSpace(node.Value)
	switch strings.ToLower(value) {
	case "forever", "never", "infinite":
		*t = Forever
		return nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			*t = Forever
		} else {
			*t = Seconds(seconds)
		}
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("line %d: invalid ttl %q", node.Line, node.Value)
	}
	*t = After(d)
	return nil
}
