package broker

import (
	"context"
	"errors"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/zoff-tech/go-recovery/pkg/config"
	"github.com/zoff-tech/go-recovery/schema"
)

// PubSubBrokerCreator defines a function type for creating Pub/Sub clients.
type PubSubBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (MessageBroker, error)

// NewPubSubClient is the default implementation of PubSubBrokerCreator.
var NewPubSubClient PubSubBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (MessageBroker, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &pubSubBroker{
		client:       client,
		topic:        settings.Topic,
		subscription: settings.Subscription,
		logger:       slog.Default().With("broker", "gcp-pubsub"),
	}, nil
}

type pubSubBroker struct {
	client       *pubsub.Client
	topic        string
	subscription string
	logger       *slog.Logger
}

func (p *pubSubBroker) Publish(ctx context.Context, n schema.Notification) error {
	tracer := otel.Tracer("go-recovery")
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.topic),
		),
	)
	defer span.End()

	body, err := n.Marshal()
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Inject the trace context into the message attributes
	attributes := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attributes))

	res := p.client.Topic(p.topic).Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: attributes,
	})
	if _, err := res.Get(ctx); err != nil { // wait for server ack
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(body)),
	)
	return nil
}

func (p *pubSubBroker) Subscribe(ctx context.Context, fn func(schema.Notification)) error {
	if p.subscription == "" {
		return errors.New("pubsub subscription is not configured")
	}
	return p.client.Subscription(p.subscription).Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		// Notifications only prompt a re-read of the queue, so they are acked before handling.
		m.Ack()
		n, err := schema.UnmarshalNotification(m.Data)
		if err != nil {
			p.logger.Warn("dropping undecodable notification", "error", err)
			return
		}
		fn(n)
	})
}

func (p *pubSubBroker) Close() error {
	return p.client.Close()
}
