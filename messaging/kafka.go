package messaging

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

var _ Broker = &KafkaBroker{}

type KafkaConfig struct {
	// Brokers is the list of Kafka bootstrap servers (host:port).
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"clientid"`
	// PingOnStartup makes the broker connect when it is created, instead of on the first message.
	PingOnStartup bool           `koanf:"pingonstartup"`
	Sasl          SaslConfig     `koanf:"sasl"`
	Security      SecurityConfig `koanf:"security"`
	// ProduceTimeout bounds a single publish. Zero means the request context decides.
	ProduceTimeout time.Duration `koanf:"producetimeout"`
}

type SaslConfig struct {
	// Mechanism is the SASL mechanism, only PLAIN is supported.
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type SecurityConfig struct {
	// Protocol is one of PLAINTEXT, SSL, SASL_PLAINTEXT, SASL_SSL.
	Protocol string `koanf:"protocol"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c KafkaConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	switch strings.ToUpper(c.Security.Protocol) {
	case "", "PLAINTEXT", "SSL":
	case "SASL_PLAINTEXT", "SASL_SSL":
		if !strings.EqualFold(c.Sasl.Mechanism, "PLAIN") {
			return fmt.Errorf("unsupported kafka SASL mechanism: %s", c.Sasl.Mechanism)
		}
	default:
		return fmt.Errorf("unsupported kafka security protocol: %s", c.Security.Protocol)
	}
	return nil
}

func (c KafkaConfig) clientOpts() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.AllowAutoTopicCreation(),
	}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	protocol := strings.ToUpper(c.Security.Protocol)
	if protocol == "SSL" || protocol == "SASL_SSL" {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if strings.HasPrefix(protocol, "SASL_") {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: c.Sasl.Username,
			Pass: c.Sasl.Password,
		}.AsMechanism()))
	}
	return opts
}

// KafkaBroker publishes messages to Kafka using franz-go.
// The underlying client is created on first use and shared by all callers.
type KafkaBroker struct {
	config KafkaConfig
	mux    sync.Mutex
	client KgoClient
}

func NewKafkaBroker(ctx context.Context, config KafkaConfig) (*KafkaBroker, error) {
	broker := &KafkaBroker{config: config}
	if config.PingOnStartup {
		client, err := broker.connect()
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			return nil, errors.Wrap(err, "kafka ping failed")
		}
		log.Ctx(ctx).Info().Msgf("Messaging: connected to Kafka (brokers=%s)", strings.Join(config.Brokers, ","))
	}
	return broker, nil
}

func (k *KafkaBroker) connect() (KgoClient, error) {
	k.mux.Lock()
	defer k.mux.Unlock()
	if k.client != nil {
		return k.client, nil
	}
	client, err := newKgoClient(k.config.clientOpts())
	if err != nil {
		return nil, errors.Wrap(err, "unable to create kafka client")
	}
	k.client = client
	return client, nil
}

func (k *KafkaBroker) SendMessage(ctx context.Context, topic string, message *Message) error {
	client, err := k.connect()
	if err != nil {
		return err
	}
	if k.config.ProduceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.config.ProduceTimeout)
		defer cancel()
	}
	key := uuid.NewString()
	if message.CorrelationID != nil {
		key = *message.CorrelationID
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: message.Body,
	}
	if message.ContentType != "" {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: "content-type", Value: []byte(message.ContentType)})
	}
	if err := client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return errors.Wrapf(err, "failed to produce message to topic %s", topic)
	}
	log.Ctx(ctx).Debug().Msgf("Messaging: published message to Kafka (topic=%s, key=%s)", topic, key)
	return nil
}

func (k *KafkaBroker) Close(ctx context.Context) error {
	k.mux.Lock()
	defer k.mux.Unlock()
	if k.client == nil {
		return nil
	}
	err := k.client.Flush(ctx)
	k.client.Close()
	k.client = nil
	if err != nil {
		return errors.Wrap(err, "failed to flush kafka client")
	}
	return nil
}
