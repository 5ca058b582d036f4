package changefeed_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-tunesync/pkg/types"
)

// mockConsumer is an in-memory MessageConsumer fed by the test.
type mockConsumer struct {
	msgChan  chan types.ConsumedMessage
	doneChan chan struct{}
	stopOnce sync.Once
}

func newMockConsumer(bufferSize int) *mockConsumer {
	return &mockConsumer{
		msgChan:  make(chan types.ConsumedMessage, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *mockConsumer) Messages() <-chan types.ConsumedMessage { return m.msgChan }
func (m *mockConsumer) Start(ctx context.Context) error        { return nil }
func (m *mockConsumer) Done() <-chan struct{}                  { return m.doneChan }

func (m *mockConsumer) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

// ackRecorder builds a message whose Ack/Nack outcome is observable.
type ackRecorder struct {
	acked  chan string
	nacked chan string
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{acked: make(chan string, 10), nacked: make(chan string, 10)}
}

func (r *ackRecorder) message(id string, payload []byte, attrs map[string]string) types.ConsumedMessage {
	return types.ConsumedMessage{
		PublishMessage: types.PublishMessage{ID: id, Payload: payload},
		Attributes:     attrs,
		Ack:            func() { r.acked <- id },
		Nack:           func() { r.nacked <- id },
	}
}

// mockPublisher records published messages.
type mockPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	attrs    []map[string]string
	err      error
}

func (p *mockPublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	p.attrs = append(p.attrs, attributes)
	return nil
}

func (p *mockPublisher) Stop(ctx context.Context) error { return nil }
