package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	WorkloadTicker  = "ticker"
	WorkloadCommand = "command"

	// EnvLogLevel and EnvLogPath override the logging section; the path is a
	// directory that receives service.log
	EnvLogLevel = "SERVICE_LOG_LEVEL"
	EnvLogPath  = "SERVICE_LOG_PATH"

	logFileName = "service.log"
)

var (
	serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	subjectTokenRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Config is the complete service host configuration
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Workload WorkloadConfig `mapstructure:"workload"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServiceConfig names the service as registered with the OS service manager
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display_name"`
	Description string `mapstructure:"description"`
}

// RuntimeConfig holds the shutdown policy
type RuntimeConfig struct {
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	WaitInterval       time.Duration `mapstructure:"wait_interval"`
	StartWaitHint      time.Duration `mapstructure:"start_wait_hint"`
	StopWaitHint       time.Duration `mapstructure:"stop_wait_hint"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
}

// WorkloadConfig selects the hosted task
type WorkloadConfig struct {
	Kind     string        `mapstructure:"kind"`
	Interval time.Duration `mapstructure:"interval"`
	Command  string        `mapstructure:"command"`
	Args     []string      `mapstructure:"args"`
	Dir      string        `mapstructure:"dir"`
	Env      []string      `mapstructure:"env"`
}

// NATSConfig configures the optional lifecycle event publisher
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URLs          []string      `mapstructure:"urls"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	// RemoteControl subscribes to <prefix>.<service>.cmd.* for ping, status and stop
	RemoteControl bool          `mapstructure:"remote_control"`
	Auth          AuthConfig    `mapstructure:"auth"`
	TLS           TLSConfig     `mapstructure:"tls"`
}

// AuthConfig selects the NATS authentication method
type AuthConfig struct {
	Type      string `mapstructure:"type"`
	CredsFile string `mapstructure:"creds_file"`
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig configures TLS for the NATS connection
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// MetricsConfig configures the Prometheus textfile export
type MetricsConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	TextfileDirectory string `mapstructure:"textfile_directory"`
}

// LoggingConfig configures zap and log rotation
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from path (YAML), SERVICEHOST_* environment
// variables and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SERVICEHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "servicehost")
	v.SetDefault("service.display_name", "Service Host")
	v.SetDefault("service.description", "Hosts a long-running workload with coordinated shutdown")

	v.SetDefault("runtime.grace_period", 16*time.Second)
	v.SetDefault("runtime.wait_interval", time.Second)
	v.SetDefault("runtime.start_wait_hint", 3*time.Second)
	v.SetDefault("runtime.stop_wait_hint", 10*time.Second)
	v.SetDefault("runtime.checkpoint_interval", 100*time.Millisecond)

	v.SetDefault("workload.kind", WorkloadTicker)
	v.SetDefault("workload.interval", 10*time.Second)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("nats.subject_prefix", "services")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.drain_timeout", 5*time.Second)
	v.SetDefault("nats.remote_control", false)
	v.SetDefault("nats.auth.type", "none")

	v.SetDefault("metrics.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	UpdateConfigDefaults(v)
}

// applyEnvOverrides applies the unprefixed logging variables
func applyEnvOverrides(cfg *Config) {
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if dir := os.Getenv(EnvLogPath); dir != "" {
		cfg.Logging.File = filepath.Join(dir, logFileName)
	}
}

func validate(cfg *Config) error {
	if err := validateService(&cfg.Service); err != nil {
		return err
	}
	if err := validateRuntime(&cfg.Runtime); err != nil {
		return err
	}
	if err := validateWorkload(&cfg.Workload); err != nil {
		return err
	}
	if cfg.NATS.Enabled {
		if err := validateNATS(&cfg.NATS); err != nil {
			return err
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.TextfileDirectory == "" {
		return fmt.Errorf("metrics.textfile_directory is required when metrics are enabled")
	}
	if cfg.Logging.File == "" {
		return fmt.Errorf("logging.file is required")
	}
	return nil
}

func validateService(s *ServiceConfig) error {
	if s.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if len(s.Name) > 80 {
		return fmt.Errorf("service.name must not exceed 80 characters")
	}
	if !serviceNamePattern.MatchString(s.Name) {
		return fmt.Errorf("service.name must contain only alphanumeric characters, dashes, and underscores")
	}
	return nil
}

func validateRuntime(r *RuntimeConfig) error {
	if r.GracePeriod < time.Second {
		return fmt.Errorf("runtime.grace_period must be at least 1 second")
	}
	if r.GracePeriod > 10*time.Minute {
		return fmt.Errorf("runtime.grace_period must not exceed 10 minutes")
	}
	if r.WaitInterval <= 0 {
		return fmt.Errorf("runtime.wait_interval must be positive")
	}
	if r.StartWaitHint <= 0 || r.StopWaitHint <= 0 {
		return fmt.Errorf("runtime wait hints must be positive")
	}
	if r.CheckpointInterval <= 0 {
		return fmt.Errorf("runtime.checkpoint_interval must be positive")
	}
	if r.CheckpointInterval >= r.StopWaitHint {
		return fmt.Errorf("runtime.checkpoint_interval (%v) must be shorter than runtime.stop_wait_hint (%v)",
			r.CheckpointInterval, r.StopWaitHint)
	}
	return nil
}

func validateWorkload(w *WorkloadConfig) error {
	switch w.Kind {
	case WorkloadTicker:
		if w.Interval < 100*time.Millisecond {
			return fmt.Errorf("workload.interval must be at least 100 milliseconds")
		}
	case WorkloadCommand:
		if strings.TrimSpace(w.Command) == "" {
			return fmt.Errorf("workload.command is required for the command workload")
		}
	default:
		return fmt.Errorf("invalid workload kind: %q (must be %s or %s)", w.Kind, WorkloadTicker, WorkloadCommand)
	}
	return nil
}

func validateNATS(n *NATSConfig) error {
	if len(n.URLs) == 0 {
		return fmt.Errorf("nats.urls is required when nats is enabled")
	}
	if err := validateSubjectPrefix(n.SubjectPrefix); err != nil {
		return err
	}

	switch n.Auth.Type {
	case "none":
	case "creds":
		if n.Auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for creds auth")
		}
	case "token":
		if n.Auth.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
	case "userpass":
		if n.Auth.Username == "" || n.Auth.Password == "" {
			return fmt.Errorf("username and password are required for userpass auth")
		}
	default:
		return fmt.Errorf("invalid auth type: %q", n.Auth.Type)
	}

	return validateTLS(&n.TLS)
}

func validateSubjectPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("nats.subject_prefix is required")
	}
	if len(prefix) > 50 {
		return fmt.Errorf("nats.subject_prefix must not exceed 50 characters")
	}
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("nats.subject_prefix cannot start or end with a dot")
	}
	for _, token := range strings.Split(prefix, ".") {
		if token == "" {
			return fmt.Errorf("nats.subject_prefix: consecutive dots not allowed")
		}
		if !subjectTokenRegex.MatchString(token) {
			return fmt.Errorf("nats.subject_prefix contains invalid characters in %q", token)
		}
	}
	return nil
}

func validateTLS(t *TLSConfig) error {
	if !t.Enabled {
		return nil
	}
	if t.CertFile != "" && t.KeyFile == "" {
		return fmt.Errorf("tls.key_file is required when cert_file is set")
	}
	if t.KeyFile != "" && t.CertFile == "" {
		return fmt.Errorf("tls.cert_file is required when key_file is set")
	}
	if t.CertFile != "" {
		if _, err := os.Stat(t.CertFile); err != nil {
			return fmt.Errorf("certificate file not found: %s", t.CertFile)
		}
	}
	if t.KeyFile != "" {
		if _, err := os.Stat(t.KeyFile); err != nil {
			return fmt.Errorf("key file not found: %s", t.KeyFile)
		}
	}
	if t.CAFile != "" {
		if _, err := os.Stat(t.CAFile); err != nil {
			return fmt.Errorf("CA file not found: %s", t.CAFile)
		}
	}
	return nil
}
