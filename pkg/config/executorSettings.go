package config

import "time"

// ExecutorSettings configures rule handler lookup and execution bounds.
type ExecutorSettings struct {
	HandlersDir string        `mapstructure:"handlers_dir"`
	DebugType   string        `mapstructure:"debug_type" validate:"required"`
	SoftTimeout time.Duration `mapstructure:"soft_timeout" validate:"gt=0"`
	HardTimeout time.Duration `mapstructure:"hard_timeout" validate:"gtfield=SoftTimeout"`
}

// SchedulerSettings configures deferred delivery and wake-up.
type SchedulerSettings struct {
	TimeoutPrefix string `mapstructure:"timeout_prefix" validate:"required"`
	WakeType      string `mapstructure:"wake_type" validate:"required"`
	Waker         string `mapstructure:"waker" validate:"oneof=process inprocess"`
}
