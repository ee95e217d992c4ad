package broker

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// Memory is an in-process broker. Records published to the submit topic are
// queued for consumers; every other subject is kept as a mailbox entry.
type Memory struct {
	submitTopic string
	queue       chan *memMessage

	mu       sync.Mutex
	seq      uint64
	stored   map[string][]*Stored
	acked    int
	naked    int
	progress int
	closed   bool
	pending  sync.WaitGroup

	// PublishErr, when set, fails every Publish.
	PublishErr error
}

// NewMemory returns a broker whose work queue is bound to submitTopic.
func NewMemory(submitTopic string) *Memory {
	return &Memory{
		submitTopic: submitTopic,
		queue:       make(chan *memMessage, 1024),
		stored:      map[string][]*Stored{},
	}
}

func (m *Memory) Publish(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}
	value := bytes.Clone(rec.Value)
	if rec.Subject == m.submitTopic {
		m.enqueue(&memMessage{broker: m, subject: rec.Subject, value: value, delivery: 1})
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.stored[rec.Subject] = append(m.stored[rec.Subject], &Stored{
		Subject:  rec.Subject,
		Sequence: m.seq,
		Key:      rec.Key,
		Value:    value,
		Time:     time.Now(),
	})
	return nil
}

func (m *Memory) enqueue(msg *memMessage) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	m.queue <- msg
}

// Consumer returns a reader on the shared work queue.
func (m *Memory) Consumer(context.Context) (Consumer, error) {
	return &memConsumer{broker: m, done: make(chan struct{})}, nil
}

func (m *Memory) Last(_ context.Context, subject string) (*Stored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.stored[subject]
	if len(msgs) == 0 {
		return nil, ErrNoMessage
	}
	last := *msgs[len(msgs)-1]
	last.Value = bytes.Clone(last.Value)
	return &last, nil
}

func (m *Memory) Remove(_ context.Context, subject string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.stored[subject]
	for i, s := range msgs {
		if s.Sequence == seq {
			m.stored[subject] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return ErrNoMessage
}

// Stats returns the number of acknowledged and negatively acknowledged deliveries.
func (m *Memory) Stats() (acked, naked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked, m.naked
}

// Heartbeats returns how many InProgress signals deliveries have sent.
func (m *Memory) Heartbeats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Pending returns the number of queued, undelivered submissions.
func (m *Memory) Pending() int {
	return len(m.queue)
}

// Close stops accepting redeliveries and waits for scheduled ones to settle.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.pending.Wait()
	return nil
}

type memConsumer struct {
	broker *Memory
	once   sync.Once
	done   chan struct{}
}

func (c *memConsumer) Next(ctx context.Context) (Message, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}
	select {
	case msg := <-c.broker.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *memConsumer) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type memMessage struct {
	broker   *Memory
	subject  string
	value    []byte
	delivery uint64
}

func (m *memMessage) Subject() string  { return m.subject }
func (m *memMessage) Value() []byte    { return m.value }
func (m *memMessage) Delivery() uint64 { return m.delivery }

func (m *memMessage) Ack() error {
	m.broker.mu.Lock()
	m.broker.acked++
	m.broker.mu.Unlock()
	return nil
}

func (m *memMessage) InProgress() error {
	m.broker.mu.Lock()
	m.broker.progress++
	m.broker.mu.Unlock()
	return nil
}

func (m *memMessage) Nak(delay time.Duration) error {
	b := m.broker
	b.mu.Lock()
	b.naked++
	b.mu.Unlock()

	next := &memMessage{broker: b, subject: m.subject, value: m.value, delivery: m.delivery + 1}
	b.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer b.pending.Done()
		b.enqueue(next)
	})
	return nil
}
