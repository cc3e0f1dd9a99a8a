// Package config loads runtime settings from defaults, an optional YAML file,
// APPRUNNERSCALE_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rshade/apprunner-scale/internal/controlplane"
	"github.com/rshade/apprunner-scale/internal/migration"
	"github.com/rshade/apprunner-scale/internal/operation"
)

// EnvPrefix prefixes every environment variable, e.g. APPRUNNERSCALE_MAX_WAIT.
const EnvPrefix = "APPRUNNERSCALE"

const (
	StackSourceCloudFormation = "cloudformation"
	StackSourcePulumi         = "pulumi"
)

type Config struct {
	Region               string        `mapstructure:"region"`
	DefaultPolicyName    string        `mapstructure:"default_policy_name"`
	MissingDefaultPolicy string        `mapstructure:"missing_default_policy"`
	MigrateOnDelete      bool          `mapstructure:"migrate_on_delete"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	MaxWait              time.Duration `mapstructure:"max_wait"`

	// ConnectionName enables the source connection precondition when set.
	ConnectionName        string   `mapstructure:"connection_name"`
	ServiceExportSuffixes []string `mapstructure:"service_export_suffixes"`
	StackSource           string   `mapstructure:"stack_source"`

	Pulumi PulumiConfig `mapstructure:"pulumi"`
	Server ServerConfig `mapstructure:"server"`
	Debug  bool         `mapstructure:"debug"`
}

type PulumiConfig struct {
	WorkDir string `mapstructure:"work_dir"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	AuthToken string `mapstructure:"auth_token"`

	// SNSTopicArn restricts the SNS endpoint to one topic.
	SNSTopicArn string `mapstructure:"sns_topic_arn"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DefaultPolicyName:     migration.DefaultPolicyName,
		MissingDefaultPolicy:  string(migration.MissingDefaultFail),
		MigrateOnDelete:       true,
		PollInterval:          operation.DefaultInterval,
		MaxWait:               operation.DefaultMaxWait,
		ServiceExportSuffixes: append([]string(nil), controlplane.DefaultServiceExportSuffixes...),
		StackSource:           StackSourceCloudFormation,
		Pulumi:                PulumiConfig{WorkDir: "."},
		Server:                ServerConfig{Port: 8080},
	}
}

// SetDefaults registers Default on v and wires the environment.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("region", d.Region)
	v.SetDefault("default_policy_name", d.DefaultPolicyName)
	v.SetDefault("missing_default_policy", d.MissingDefaultPolicy)
	v.SetDefault("migrate_on_delete", d.MigrateOnDelete)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("max_wait", d.MaxWait)
	v.SetDefault("connection_name", d.ConnectionName)
	v.SetDefault("service_export_suffixes", d.ServiceExportSuffixes)
	v.SetDefault("stack_source", d.StackSource)
	v.SetDefault("pulumi.work_dir", d.Pulumi.WorkDir)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.auth_token", d.Server.AuthToken)
	v.SetDefault("server.sns_topic_arn", d.Server.SNSTopicArn)
	v.SetDefault("debug", d.Debug)

	v.SetEnvPrefix(EnvPrefix)
	// e.g. APPRUNNERSCALE_SERVER_AUTH_TOKEN for server.auth_token
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("region", EnvPrefix+"_REGION", "REGION", "AWS_REGION")
}

// ReadFile reads path into v. An empty path looks for apprunnerscale.yaml in
// the working directory and ignores its absence.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("apprunnerscale")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Load reads v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	var errs []error
	if c.DefaultPolicyName == "" {
		errs = append(errs, errors.New("default_policy_name is required"))
	}
	switch migration.MissingDefaultAction(c.MissingDefaultPolicy) {
	case migration.MissingDefaultFail, migration.MissingDefaultSkip:
	default:
		errs = append(errs, fmt.Errorf("missing_default_policy must be fail or skip, got %q", c.MissingDefaultPolicy))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("max_wait cannot be negative, got %s", c.MaxWait))
	}
	if len(c.ServiceExportSuffixes) == 0 {
		errs = append(errs, errors.New("service_export_suffixes cannot be empty"))
	}
	switch c.StackSource {
	case StackSourceCloudFormation, StackSourcePulumi:
	default:
		errs = append(errs, fmt.Errorf("stack_source must be cloudformation or pulumi, got %q", c.StackSource))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
