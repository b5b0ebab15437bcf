package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/SanteonNL/mpi-mediator/lib/to"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/mock/gomock"
)

func withKgoClient(t *testing.T, client KgoClient, err error) {
	org := newKgoClient
	newKgoClient = func(opts []kgo.Opt) (KgoClient, error) {
		return client, err
	}
	t.Cleanup(func() {
		newKgoClient = org
	})
}

func TestKafkaConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  KafkaConfig
		wantErr string
	}{
		{
			name:   "disabled",
			config: KafkaConfig{},
		},
		{
			name:   "plaintext",
			config: KafkaConfig{Brokers: []string{"localhost:9092"}},
		},
		{
			name: "SASL PLAIN",
			config: KafkaConfig{
				Brokers:  []string{"localhost:9092"},
				Security: SecurityConfig{Protocol: "SASL_SSL"},
				Sasl:     SaslConfig{Mechanism: "PLAIN"},
			},
		},
		{
			name: "unsupported SASL mechanism",
			config: KafkaConfig{
				Brokers:  []string{"localhost:9092"},
				Security: SecurityConfig{Protocol: "SASL_PLAINTEXT"},
				Sasl:     SaslConfig{Mechanism: "SCRAM-SHA-512"},
			},
			wantErr: "unsupported kafka SASL mechanism: SCRAM-SHA-512",
		},
		{
			name: "unsupported security protocol",
			config: KafkaConfig{
				Brokers:  []string{"localhost:9092"},
				Security: SecurityConfig{Protocol: "KERBEROS"},
			},
			wantErr: "unsupported kafka security protocol: KERBEROS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestKafkaConfig_clientOpts(t *testing.T) {
	plaintext := KafkaConfig{Brokers: []string{"localhost:9092"}}
	saslSSL := KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		ClientID: "mpi-mediator",
		Security: SecurityConfig{Protocol: "SASL_SSL"},
		Sasl:     SaslConfig{Mechanism: "PLAIN", Username: "user", Password: "secret"},
	}

	assert.Len(t, plaintext.clientOpts(), 2)
	assert.Len(t, saslSSL.clientOpts(), 5)
}

func TestNewKafkaBroker(t *testing.T) {
	ctx := context.Background()
	t.Run("connects lazily", func(t *testing.T) {
		withKgoClient(t, nil, errors.New("must not be called"))

		broker, err := NewKafkaBroker(ctx, KafkaConfig{Brokers: []string{"localhost:9092"}})

		require.NoError(t, err)
		require.NotNil(t, broker)
	})
	t.Run("ping on startup", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := NewMockKgoClient(ctrl)
		client.EXPECT().Ping(ctx).Return(nil)
		withKgoClient(t, client, nil)

		_, err := NewKafkaBroker(ctx, KafkaConfig{Brokers: []string{"localhost:9092"}, PingOnStartup: true})

		require.NoError(t, err)
	})
	t.Run("ping on startup fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := NewMockKgoClient(ctrl)
		client.EXPECT().Ping(ctx).Return(errors.New("connection refused"))
		withKgoClient(t, client, nil)

		_, err := NewKafkaBroker(ctx, KafkaConfig{Brokers: []string{"localhost:9092"}, PingOnStartup: true})

		require.EqualError(t, err, "kafka ping failed: connection refused")
	})
}

func TestKafkaBroker_SendMessage(t *testing.T) {
	ctx := context.Background()
	config := KafkaConfig{Brokers: []string{"localhost:9092"}}
	t.Run("ok", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := NewMockKgoClient(ctrl)
		var produced *kgo.Record
		client.EXPECT().ProduceSync(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
			produced = rs[0]
			return kgo.ProduceResults{{Record: rs[0]}}
		})
		withKgoClient(t, client, nil)
		broker, err := NewKafkaBroker(ctx, config)
		require.NoError(t, err)

		err = broker.SendMessage(ctx, "2xx", &Message{
			Body:          []byte(`{"resourceType":"Bundle"}`),
			ContentType:   "application/fhir+json",
			CorrelationID: to.Ptr("abc"),
		})

		require.NoError(t, err)
		require.NotNil(t, produced)
		assert.Equal(t, "2xx", produced.Topic)
		assert.Equal(t, "abc", string(produced.Key))
		assert.JSONEq(t, `{"resourceType":"Bundle"}`, string(produced.Value))
		require.Len(t, produced.Headers, 1)
		assert.Equal(t, "content-type", produced.Headers[0].Key)
		assert.Equal(t, "application/fhir+json", string(produced.Headers[0].Value))
	})
	t.Run("client is reused", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := NewMockKgoClient(ctrl)
		client.EXPECT().ProduceSync(ctx, gomock.Any()).Return(kgo.ProduceResults{{Record: &kgo.Record{}}}).Times(2)
		created := 0
		org := newKgoClient
		newKgoClient = func(opts []kgo.Opt) (KgoClient, error) {
			created++
			return client, nil
		}
		t.Cleanup(func() { newKgoClient = org })
		broker, _ := NewKafkaBroker(ctx, config)

		require.NoError(t, broker.SendMessage(ctx, "2xx", &Message{Body: []byte(`{}`)}))
		require.NoError(t, broker.SendMessage(ctx, "2xx", &Message{Body: []byte(`{}`)}))

		assert.Equal(t, 1, created)
	})
	t.Run("produce fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := NewMockKgoClient(ctrl)
		client.EXPECT().ProduceSync(ctx, gomock.Any()).Return(kgo.ProduceResults{{Err: errors.New("leader not available")}})
		withKgoClient(t, client, nil)
		broker, _ := NewKafkaBroker(ctx, config)

		err := broker.SendMessage(ctx, "2xx", &Message{Body: []byte(`{}`)})

		require.EqualError(t, err, "failed to produce message to topic 2xx: leader not available")
	})
	t.Run("client creation fails", func(t *testing.T) {
		withKgoClient(t, nil, errors.New("invalid option"))
		broker, _ := NewKafkaBroker(ctx, config)

		err := broker.SendMessage(ctx, "2xx", &Message{Body: []byte(`{}`)})

		require.EqualError(t, err, "unable to create kafka client: invalid option")
	})
}

func TestKafkaBroker_Close(t *testing.T) {
	ctx := context.Background()
	t.Run("not connected", func(t *testing.T) {
		broker, _ := NewKafkaBroker(ctx, KafkaConfig{Brokers: []string{"localhost:9092"}})

		require.NoError(t, broker.Close(ctx))
	})
	t.Run("flushes and closes", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := NewMockKgoClient(ctrl)
		client.EXPECT().Ping(ctx).Return(nil)
		client.EXPECT().Flush(ctx).Return(nil)
		client.EXPECT().Close()
		withKgoClient(t, client, nil)
		broker, err := NewKafkaBroker(ctx, KafkaConfig{Brokers: []string{"localhost:9092"}, PingOnStartup: true})
		require.NoError(t, err)

		require.NoError(t, broker.Close(ctx))
	})
}
