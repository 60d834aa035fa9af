package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "HSEXTRACT"

	BackendFS    = "fs"
	BackendMinIO = "minio"

	DefaultAddr      = ":8080"
	DefaultDedupeTTL = 10 * time.Second
	DefaultQueueSize = 256
)

type Config struct {
	StorageBackend string `yaml:"storage_backend" json:"storage_backend" mapstructure:"storage_backend"`
	// StorageRoot is the local directory holding one subdirectory per bucket.
	StorageRoot string `yaml:"storage_root" json:"storage_root" mapstructure:"storage_root"`
	Endpoint    string `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	AccessKey   string `yaml:"access_key" json:"-" mapstructure:"access_key"`
	SecretKey   string `yaml:"secret_key" json:"-" mapstructure:"secret_key"`
	Secure      bool   `yaml:"secure" json:"secure" mapstructure:"secure"`
	Region      string `yaml:"region" json:"region" mapstructure:"region"`
	// Buckets are watched for notifications by the serve command.
	Buckets []string `yaml:"buckets" json:"buckets" mapstructure:"buckets"`
	// BaseURL prefixes contentUrl values; empty keeps bucket/key paths.
	BaseURL    string        `yaml:"base_url" json:"base_url" mapstructure:"base_url"`
	Jobs       int           `yaml:"jobs" json:"jobs" mapstructure:"jobs"`
	QueueSize  int           `yaml:"queue_size" json:"queue_size" mapstructure:"queue_size"`
	Addr       string        `yaml:"addr" json:"addr" mapstructure:"addr"`
	DedupeTTL  time.Duration `yaml:"dedupe_ttl" json:"dedupe_ttl" mapstructure:"dedupe_ttl"`
	StagingDir string        `yaml:"staging_dir" json:"staging_dir" mapstructure:"staging_dir"`
	StateFile  string        `yaml:"state_file" json:"state_file" mapstructure:"state_file"`
	LogFile    string        `yaml:"log_file" json:"log_file" mapstructure:"log_file"`
	LogJSON    bool          `yaml:"log_json" json:"log_json" mapstructure:"log_json"`
}

func stateDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".hsextract")
}

func DefaultConfig() *Config {
	jobs := runtime.NumCPU()
	if jobs < 1 {
		jobs = 4
	}

	dir := stateDir()
	return &Config{
		StorageBackend: BackendFS,
		StorageRoot:    filepath.Join(dir, "storage"),
		Jobs:           jobs,
		QueueSize:      DefaultQueueSize,
		Addr:           DefaultAddr,
		DedupeTTL:      DefaultDedupeTTL,
		StateFile:      filepath.Join(dir, "state.json"),
		LogFile:        filepath.Join(dir, "hsextract.log"),
		LogJSON:        false,
	}
}

func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads the optional YAML file, then applies HSEXTRACT_* environment
// overrides. Flags are applied by the caller before Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any HSEXTRACT_<KEY> variables that are set.
func ApplyEnv(cfg *Config) error {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	current := map[string]interface{}{}
	if err := mapstructure.Decode(cfg, &current); err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	for key, value := range current {
		_ = v.BindEnv(key)
		v.SetDefault(key, value)
	}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks)); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendFS:
		if c.StorageRoot == "" {
			return &ValidationError{Field: "storage_root", Message: "storage root is required for the fs backend"}
		}
	case BackendMinIO:
		if c.Endpoint == "" {
			return &ValidationError{Field: "endpoint", Message: "endpoint is required for the minio backend"}
		}
	default:
		return &ValidationError{Field: "storage_backend", Message: fmt.Sprintf("unknown backend %q", c.StorageBackend)}
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return &ValidationError{Field: "base_url", Message: "base url must start with http:// or https://"}
	}

	if c.Jobs < 1 {
		c.Jobs = 1
	}
	if c.QueueSize < 1 {
		c.QueueSize = DefaultQueueSize
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = DefaultDedupeTTL
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(stateDir(), "hsextract.log")
	}
	if c.StateFile == "" {
		c.StateFile = filepath.Join(stateDir(), "state.json")
	}

	return nil
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
