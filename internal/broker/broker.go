// Package broker carries job descriptors from submitters to workers and
// completion messages back. Submissions go through a durable, at-least-once
// work queue shared by every worker in the consumer group; completions are
// addressed per correlation key so a caller can look one up and remove it.
package broker

import (
	"context"
	stderrors "errors"
	"time"
)

// HeaderCorrelationKey carries the correlation key on completion messages.
const HeaderCorrelationKey = "Correlation-Key"

var (
	// ErrClosed is returned by Consumer.Next once the consumer has been closed.
	ErrClosed = stderrors.New("consumer closed")
	// ErrNoMessage is returned by Mailbox lookups when nothing is stored for the subject.
	ErrNoMessage = stderrors.New("no message for subject")
)

// Record is an outgoing message.
type Record struct {
	Subject string
	Key     string // correlation key, sent as a header; empty for submissions
	Value   []byte
	MsgID   string // publish dedupe id
}

// Message is one delivery of a submitted job descriptor.
type Message interface {
	Subject() string
	Value() []byte
	// Delivery is the 1-based attempt number for this message.
	Delivery() uint64
	Ack() error
	// InProgress resets the redelivery timer while the job is still being worked on.
	InProgress() error
	// Nak hands the message back for redelivery after delay.
	Nak(delay time.Duration) error
}

// Publisher enqueues records.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// Consumer is a blocking single-item reader bound to the consumer group.
type Consumer interface {
	// Next blocks until a message arrives, ctx is done, or the consumer is closed.
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Stored is a message persisted on a completion subject.
type Stored struct {
	Subject  string
	Sequence uint64
	Key      string
	Value    []byte
	Time     time.Time
}

// Mailbox reads and removes per-key completion messages.
type Mailbox interface {
	Last(ctx context.Context, subject string) (*Stored, error)
	// Remove deletes the stored message. It returns ErrNoMessage when another
	// reader already removed it.
	Remove(ctx context.Context, subject string, seq uint64) error
}

// CompletionSubject returns the per-key completion subject under topic.
func CompletionSubject(topic, key string) string {
	return topic + "." + key
}
