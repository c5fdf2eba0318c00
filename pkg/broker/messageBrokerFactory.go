package broker

import (
	"context"
	"fmt"

	"github.com/zoff-tech/go-recovery/pkg/config"
)

func NewBroker(ctx context.Context, cfg *config.BrokerSettings) (MessageBroker, error) {
	switch cfg.Type {
	case "", "none":
		return noopBroker{}, nil
	case "local":
		return NewLocalBroker(), nil
	case "rabbitmq":
		return NewRabbitMqBroker(ctx, cfg)
	case "gcp-pubsub", "pubsub":
		return NewPubSubClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
