package messaging

import (
	"context"

	"github.com/SanteonNL/mpi-mediator/lib/logging"
	"github.com/rs/zerolog/log"
)

var _ Broker = DiscardBroker{}

// DiscardBroker drops every message, logging a warning. It's used when no broker is configured (non-strict mode only).
type DiscardBroker struct{}

func (DiscardBroker) SendMessage(ctx context.Context, topic string, message *Message) error {
	log.Ctx(ctx).Warn().Str(logging.FieldTopic, topic).Int("size", len(message.Body)).
		Msg("Messaging: no broker configured, message is discarded")
	return nil
}

func (DiscardBroker) Close(_ context.Context) error {
	return nil
}
