package messaging

import (
	"context"
	"sync"
)

var _ Broker = &MemoryBroker{}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		messages: make(map[string][]Message),
	}
}

// MemoryBroker keeps published messages in memory, per topic.
// If Err is set, SendMessage fails with that error without recording the message.
type MemoryBroker struct {
	mux      sync.Mutex
	messages map[string][]Message
	Err      error
}

func (m *MemoryBroker) SendMessage(_ context.Context, topic string, message *Message) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.Err != nil {
		return m.Err
	}
	body := make([]byte, len(message.Body))
	copy(body, message.Body)
	recorded := *message
	recorded.Body = body
	m.messages[topic] = append(m.messages[topic], recorded)
	return nil
}

// Messages returns the messages published to the given topic, in publish order.
func (m *MemoryBroker) Messages(topic string) []Message {
	m.mux.Lock()
	defer m.mux.Unlock()
	result := make([]Message, len(m.messages[topic]))
	copy(result, m.messages[topic])
	return result
}

func (m *MemoryBroker) Close(_ context.Context) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.messages = make(map[string][]Message)
	return nil
}
