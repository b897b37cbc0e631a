// Package config loads the service configuration via viper and the
// address-space node-set from a YAML file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
)

// Config represents the complete service configuration
type Config struct {
	Service      ServiceConfig      `mapstructure:"service"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Logging      LoggingConfig      `mapstructure:"logging"`

	// NodesConfigPath points at the YAML node-set file
	NodesConfigPath string `mapstructure:"nodes_config_path"`
}

// ServiceConfig contains service identification
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig contains HTTP server settings
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// MQTTConfig contains MQTT connection settings
type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	CleanSession   bool          `mapstructure:"clean_session"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// SubscriptionConfig contains subscription settings
type SubscriptionConfig struct {
	PublishingInterval time.Duration `mapstructure:"publishing_interval"`
}

// MonitoringConfig bounds requested monitoring parameters
type MonitoringConfig struct {
	MinSamplingIntervalMS     float64 `mapstructure:"min_sampling_interval_ms"`
	MaxSamplingIntervalMS     float64 `mapstructure:"max_sampling_interval_ms"`
	DefaultSamplingIntervalMS float64 `mapstructure:"default_sampling_interval_ms"`
	MaxQueueSize              uint32  `mapstructure:"max_queue_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// v is the viper instance behind Load and Watch.
var v = viper.New()

// Load reads the service configuration from config.yaml (searched in the
// working directory and /etc/opcua-server), applying defaults and
// OPCUA_SERVER_* environment overrides.
func Load() (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/opcua-server")

	v.SetEnvPrefix("OPCUA_SERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing files fall back to defaults; malformed files do not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Watch re-reads the configuration whenever the file changes and hands
// the result to onChange. Parse failures keep the previous configuration.
func Watch(onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load()
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "opcua-server")
	v.SetDefault("service.environment", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	hostname, _ := os.Hostname()
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", fmt.Sprintf("opcua-server-%s", hostname))
	v.SetDefault("mqtt.topic_prefix", "uns/opcua")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.clean_session", true)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)

	v.SetDefault("subscription.publishing_interval", 1*time.Second)

	v.SetDefault("monitoring.min_sampling_interval_ms", 50)
	v.SetDefault("monitoring.max_sampling_interval_ms", 3_600_000)
	v.SetDefault("monitoring.default_sampling_interval_ms", 1500)
	v.SetDefault("monitoring.max_queue_size", 5000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("nodes_config_path", "configs/nodes.yaml")
}

func validate(cfg *Config) error {
	if cfg.Monitoring.MinSamplingIntervalMS <= 0 {
		return fmt.Errorf("min_sampling_interval_ms must be positive")
	}
	if cfg.Monitoring.MaxSamplingIntervalMS < cfg.Monitoring.MinSamplingIntervalMS {
		return fmt.Errorf("max_sampling_interval_ms cannot be below min_sampling_interval_ms")
	}
	if cfg.Monitoring.MaxQueueSize < 1 {
		return fmt.Errorf("max_queue_size must be at least 1")
	}
	if cfg.Subscription.PublishingInterval <= 0 {
		return fmt.Errorf("publishing_interval must be positive")
	}
	return nil
}

// nodesFile is the YAML structure of the node-set file.
type nodesFile struct {
	Nodes []addrspace.NodeDefinition `yaml:"nodes"`
}

// LoadNodes reads node definitions from a YAML file and builds the
// address space. ${VAR} and ${VAR:default} patterns in the file are
// expanded from the environment before parsing.
func LoadNodes(path string) (*addrspace.AddressSpace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes file: %w", err)
	}

	expanded := expandEnvBraces(string(data))

	var f nodesFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("failed to parse nodes file: %w", err)
	}

	space := addrspace.New()
	for i := range f.Nodes {
		node, err := f.Nodes[i].Build()
		if err != nil {
			return nil, err
		}
		space.Add(node)
	}

	return space, nil
}

// expandEnvBraces expands only ${VAR} and ${VAR:default} patterns,
// leaving bare $ prefixes (such as $share topics) untouched.
func expandEnvBraces(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
