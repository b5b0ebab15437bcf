//go:generate mockgen -destination=./service_mock.go -package=messaging -source=service.go
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// New creates the broker described by the configuration.
// Kafka is the primary broker; when an HTTP endpoint is configured, messages are additionally sent over HTTP.
// When nothing is configured, a DiscardBroker is returned, which drops messages.
func New(ctx context.Context, config Config) (Broker, error) {
	var broker Broker
	if config.Kafka.Enabled() {
		kafkaBroker, err := NewKafkaBroker(ctx, config.Kafka)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		broker = kafkaBroker
	}
	if config.HTTP.Endpoint != "" {
		log.Ctx(ctx).Info().Msgf("Messaging: sending messages over HTTP to %s", config.HTTP.Endpoint)
		broker = NewHTTPBroker(config.HTTP, broker)
	}
	if broker == nil {
		log.Ctx(ctx).Warn().Msg("Messaging: no broker configured, messages are discarded")
		broker = DiscardBroker{}
	}
	return broker, nil
}

// Config holds the configuration for messaging.
type Config struct {
	Kafka KafkaConfig      `koanf:"kafka"`
	HTTP  HTTPBrokerConfig `koanf:"http"`
	// Topic is the topic rewritten bundles are published to.
	Topic string `koanf:"topic"`
}

func (c Config) Validate(strictMode bool) error {
	if c.Topic == "" {
		return errors.New("messaging topic is required")
	}
	if err := c.Kafka.Validate(); err != nil {
		return err
	}
	if strictMode && c.HTTP.Endpoint != "" {
		return errors.New("http endpoint is not allowed in strict mode")
	}
	if strictMode && !c.Kafka.Enabled() {
		return errors.New("production-grade messaging configuration (Kafka) is required in strict mode")
	}
	return nil
}

type Message struct {
	Body          []byte
	ContentType   string
	CorrelationID *string
}

// Broker defines an interface for publishing messages to a message broker.
// Implementations must be safe for concurrent use.
type Broker interface {
	Close(ctx context.Context) error
	SendMessage(ctx context.Context, topic string, message *Message) error
}
