package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML fields like "1s" or "100ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds server configuration. Defaults come from DefaultConfig,
// an optional YAML file overlays them, CLI flags win last.
type Config struct {
	// Positional CLI inputs, never read from YAML
	RootIP   string `yaml:"-"`
	ZoneFile string `yaml:"-"`

	// UDP port to bind; 0 lets the OS choose
	Port int `yaml:"port"`

	// Destination port for iterative queries (test-harness convention
	// is 60053; production deployments set 53)
	IterativePort int `yaml:"iterative_port"`

	// Interval between retransmissions of an unanswered iterative request
	RetryInterval Duration `yaml:"retry_interval"`

	// Retransmission budget per iterative step; the step fails once
	// attempts exceed it
	MaxAttempts int `yaml:"max_attempts"`

	// Upper bound on how long the event loop blocks in one socket poll
	PollInterval Duration `yaml:"poll_interval"`

	// Directory for per-query trace files
	TraceDir string `yaml:"trace_dir"`

	// Optional HTTP stats listener, e.g. "127.0.0.1:8080"; empty disables
	HTTPAddr string `yaml:"http_addr"`
}

// DefaultConfig returns the defaults for a lab deployment.
func DefaultConfig() Config {
	return Config{
		Port:          0,
		IterativePort: 60053,
		RetryInterval: Duration(time.Second),
		MaxAttempts:   6,
		PollInterval:  Duration(100 * time.Millisecond),
		TraceDir:      ".",
	}
}

// Load overlays the YAML file at path onto the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c Config) Validate() error {
	ip := net.ParseIP(c.RootIP)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("root server address %q is not a dotted-quad IPv4 address", c.RootIP)
	}
	if c.ZoneFile == "" {
		return fmt.Errorf("zone file path is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.IterativePort <= 0 || c.IterativePort > 65535 {
		return fmt.Errorf("iterative port %d out of range", c.IterativePort)
	}
	if c.RetryInterval.Std() <= 0 {
		return fmt.Errorf("retry interval must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.PollInterval.Std() <= 0 || c.PollInterval.Std() > 100*time.Millisecond {
		return fmt.Errorf("poll interval must be in (0, 100ms]")
	}
	return nil
}
