//go:generate mockgen -destination=./kgo_client_mock.go -package=messaging -source=kgo_client.go
package messaging

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KgoClient is the part of the franz-go client the Kafka broker uses.
type KgoClient interface {
	Ping(ctx context.Context) error
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	Close()
}

var _ KgoClient = (*kgo.Client)(nil)

var newKgoClient = func(opts []kgo.Opt) (KgoClient, error) {
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}
