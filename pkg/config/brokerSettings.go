package config

// BrokerSettings holds configuration for the queue-change notification transport.
type BrokerSettings struct {
	Type         string `mapstructure:"type" validate:"oneof=none local rabbitmq gcp-pubsub pubsub"`
	URL          string `mapstructure:"url" validate:"required_if=Type rabbitmq"`
	Exchange     string `mapstructure:"exchange"`
	ProjectID    string `mapstructure:"project_id" validate:"required_if=Type gcp-pubsub"` // GCP Pub/Sub only
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"` // watch mode on Pub/Sub
	PoolSize     int    `mapstructure:"pool_size" validate:"gte=0"` // RabbitMQ channel pool
}
