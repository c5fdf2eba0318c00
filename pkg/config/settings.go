package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Store         StoreSettings     `mapstructure:"store"`
	Broker        BrokerSettings    `mapstructure:"broker"`
	Executor      ExecutorSettings  `mapstructure:"executor"`
	Scheduler     SchedulerSettings `mapstructure:"scheduler"`
	LockPath      string            `mapstructure:"lock_path" validate:"required"`
	LockTimeout   time.Duration     `mapstructure:"lock_timeout" validate:"gt=0"`
	MaxPasses     int               `mapstructure:"max_passes" validate:"gte=0"`
	PollInterval  time.Duration     `mapstructure:"poll_interval" validate:"gt=0"` // watch mode only
	Observability Observability     `mapstructure:"observability"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// SetDefaults registers the values used when neither file nor environment provides one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.dsn", filepath.Join(os.TempDir(), "recovery-coordinator.db"))
	v.SetDefault("store.table", "kv_store")
	v.SetDefault("store.database", "recovery")
	v.SetDefault("store.collection", "kv_store")
	v.SetDefault("broker.type", "none")
	v.SetDefault("broker.exchange", "recovery.queue")
	v.SetDefault("broker.topic", "recovery-queue")
	v.SetDefault("broker.pool_size", 2)
	v.SetDefault("executor.debug_type", "debug")
	v.SetDefault("executor.soft_timeout", 4*time.Second)
	v.SetDefault("executor.hard_timeout", 6*time.Second)
	v.SetDefault("scheduler.timeout_prefix", "tmo")
	v.SetDefault("scheduler.wake_type", "wake_RC")
	v.SetDefault("scheduler.waker", "process")
	v.SetDefault("lock_path", filepath.Join(os.TempDir(), "recovery-coordinator.lock"))
	v.SetDefault("lock_timeout", 30*time.Second)
	v.SetDefault("max_passes", 16)
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("observability.service_name", "recovery-coordinator")
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
}

// LoadFromFile reads coordinator.yaml from filePath (or the working directory), merges
// coordinator.<ENVIRONMENT>.yaml when present, then applies RC_ environment overrides.
func LoadFromFile(filePath string) (*Settings, error) {
	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	SetDefaults(viper.GetViper())
	viper.SetConfigType("yaml")
	viper.SetConfigName("coordinator")
	viper.AddConfigPath(filePath)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		slog.Debug("no config file found, relying on env", "error", err)
	}

	if err := mergeConfig(filePath, "coordinator."+env); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("RC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like RC_STORE_TYPE

	for _, key := range envKeys {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}

	return viper.Unmarshal(c)
}

var envKeys = []string{
	"store.type",
	"store.dsn",
	"store.uri",
	"store.table",
	"store.database",
	"store.collection",
	"store.addr",
	"store.password",
	"store.db",
	"broker.type",
	"broker.url",
	"broker.exchange",
	"broker.project_id",
	"broker.topic",
	"broker.subscription",
	"broker.pool_size",
	"executor.handlers_dir",
	"executor.debug_type",
	"executor.soft_timeout",
	"executor.hard_timeout",
	"scheduler.timeout_prefix",
	"scheduler.wake_type",
	"scheduler.waker",
	"lock_path",
	"lock_timeout",
	"max_passes",
	"poll_interval",
	"observability.enabled",
	"observability.service_name",
	"observability.tracing_url",
	"observability.metrics_url",
	"observability.log_level",
	"observability.log_format",
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	return viper.MergeInConfig()
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
