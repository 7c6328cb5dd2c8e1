// Package daemon wires the core components (C1-C13) into a running LMX
// server process and holds its TOML configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Models    ModelsConfig    `toml:"models"`
	Inference InferenceConfig `toml:"inference"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Agents    AgentsConfig    `toml:"agents"`
	Security  SecurityConfig  `toml:"security"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Helpers   HelpersConfig   `toml:"helpers"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID     string `toml:"id"`
	Region string `toml:"region"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// ModelsConfig controls model storage.
type ModelsConfig struct {
	Dir        string `toml:"dir"`
	MaxStorage string `toml:"max_storage"`
	Default    string `toml:"default"`
	AutoPull   bool   `toml:"auto_pull"`
}

// InferenceConfig controls the inference engine.
type InferenceConfig struct {
	GPULayers     int `toml:"gpu_layers"`
	ContextLength int `toml:"context_length"`
	BatchSize     int `toml:"batch_size"`
	Threads       int `toml:"threads"`
}

// SchedulerConfig tunes the admission and lifecycle layers (C8/C9): the
// memory threshold MemoryMonitor enforces, the three AdmissionScheduler
// concurrency gates, and the keep-alive/eviction behavior of the loaded
// model table.
type SchedulerConfig struct {
	MemoryThresholdPercent   float64        `toml:"memory_threshold_percent"`
	LoadShedThresholdPercent float64        `toml:"load_shed_threshold_percent"`
	MaxConcurrentRequests    int            `toml:"max_concurrent_requests"`
	PerClientConcurrency     int            `toml:"per_client_concurrency"`
	PerModelConcurrency      map[string]int `toml:"per_model_concurrency"`
	AdmissionTimeout         string         `toml:"admission_timeout"`
	DefaultKeepAlive         string         `toml:"default_keep_alive"`
	LoadTimeout              string         `toml:"load_timeout"`
	BackendPreferenceOrder   []string       `toml:"backend_preference_order"`
	GGUFFallbackEnabled      bool           `toml:"gguf_fallback_enabled"`
}

// AgentsConfig tunes the RunScheduler (C12): worker pool size, queue
// capacity, durability backend, and claim poll interval.
type AgentsConfig struct {
	Workers      int    `toml:"workers"`
	QueueSize    int    `toml:"queue_size"`
	Durable      bool   `toml:"durable"`
	PollInterval string `toml:"poll_interval"`
}

// SecurityConfig controls API authentication and the rate limit. RateLimit
// is a single "N/unit" string applied to every route alike.
type SecurityConfig struct {
	AdminKey        string `toml:"admin_key"`
	InferenceKey    string `toml:"inference_key"`
	RateLimit       string `toml:"rate_limit"`
	MetricsEnabled  bool   `toml:"metrics_enabled"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Enabled        bool `toml:"enabled"`
	Prometheus     bool `toml:"prometheus"`
	PrometheusPort int  `toml:"prometheus_port"`
}

// HelperPeerConfig describes one configured peer for the helper fabric
// (C13): a name, its base URL, and the breaker/retry tuning for it.
type HelperPeerConfig struct {
	Name             string `toml:"name"`
	URL              string `toml:"url"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	RetryBudget      int    `toml:"retry_budget"`
	FailureThreshold int    `toml:"failure_threshold"`
	ResetTimeout     string `toml:"reset_timeout"`
}

// HelpersConfig configures the helper fabric (C13): the peer set and the
// background health-probe cadence.
type HelpersConfig struct {
	Peers                 []HelperPeerConfig `toml:"peers"`
	ProbeIntervalSeconds int                `toml:"probe_interval_seconds"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := LMXHome()
	return Config{
		Node: NodeConfig{
			Region: "auto",
		},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        11434,
			CORSOrigins: []string{"*"},
		},
		Models: ModelsConfig{
			Dir:        filepath.Join(homeDir, "models"),
			MaxStorage: "50GB",
			Default:    "llama3.2",
			AutoPull:   true,
		},
		Inference: InferenceConfig{
			GPULayers:     -1, // auto
			ContextLength: 4096,
			BatchSize:     512,
			Threads:       0, // auto = runtime.NumCPU() - 2
		},
		Scheduler: SchedulerConfig{
			MemoryThresholdPercent:   90,
			LoadShedThresholdPercent: 95,
			MaxConcurrentRequests:    64,
			PerClientConcurrency:     8,
			PerModelConcurrency:      map[string]int{},
			AdmissionTimeout:         "30s",
			DefaultKeepAlive:         "30m",
			LoadTimeout:              "5m",
			BackendPreferenceOrder:   []string{"vllm-mlx", "mlx-lm"},
			GGUFFallbackEnabled:      true,
		},
		Agents: AgentsConfig{
			Workers:      4,
			QueueSize:    1000,
			Durable:      false,
			PollInterval: "200ms",
		},
		Security: SecurityConfig{
			AdminKey:       "",
			InferenceKey:   "",
			RateLimit:      "",
			MetricsEnabled: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			Prometheus:     true,
			PrometheusPort: 9090,
		},
		Helpers: HelpersConfig{
			Peers:                nil,
			ProbeIntervalSeconds: 30,
		},
	}
}

// LoadConfig reads config from $LMX_HOME/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(LMXHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// Apply auto-detection
	if cfg.Inference.Threads == 0 {
		cfg.Inference.Threads = max(1, runtime.NumCPU()-2)
	}

	return cfg, nil
}

// SaveConfig writes the config to $LMX_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(LMXHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// durationOr parses s as a time.Duration, falling back to def on empty
// input or a parse error.
func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// parseStorageSize parses a Models.MaxStorage string such as "50GB", "1TB"
// or "100MB" into bytes (1024-based units), falling back to 50 GB for empty
// or unrecognized input.
func parseStorageSize(s string) uint64 {
	units := map[string]uint64{"TB": 1 << 40, "GB": 1 << 30, "MB": 1 << 20}
	for suffix, mult := range units {
		var n uint64
		if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
			if _, err := fmt.Sscanf(s[:len(s)-len(suffix)], "%d", &n); err == nil {
				return n * mult
			}
		}
	}
	return 50 << 30
}

// lmxHome returns the LMX data directory.
func lmxHome() string {
	if env := os.Getenv("LMX_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lmx")
}

// LMXHome is exported for use by other packages.
func LMXHome() string {
	return lmxHome()
}
