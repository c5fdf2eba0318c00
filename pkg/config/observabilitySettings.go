package config

type Observability struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name" validate:"required"`
	TracingURL  string `mapstructure:"tracing_url" validate:"required_if=Enabled true"`
	MetricsURL  string `mapstructure:"metrics_url"`
	LogLevel    string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
}
