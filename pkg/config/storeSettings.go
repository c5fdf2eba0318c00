package config

// StoreSettings selects and configures the KV store backend.
type StoreSettings struct {
	Type       string `mapstructure:"type" validate:"oneof=postgres sqlite spanner mongo redis memory"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Type postgres,required_if=Type sqlite"`
	URI        string `mapstructure:"uri" validate:"required_if=Type spanner,required_if=Type mongo"`
	Table      string `mapstructure:"table"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	Addr       string `mapstructure:"addr" validate:"required_if=Type redis"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
}
