package result

import (
	"context"
	"encoding/base64"
	stderrors "errors"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
)

const failureSuffix = ".failed"

// QueueSink publishes the artifact inline, base64-encoded, keyed by the correlation key.
type QueueSink struct {
	pub   broker.Publisher
	topic string
}

// NewQueueSink publishes to completion subjects under completionTopic.
func NewQueueSink(pub broker.Publisher, completionTopic string) *QueueSink {
	return &QueueSink{pub: pub, topic: completionTopic}
}

// Kind names the sink in logs and metrics.
func (s *QueueSink) Kind() string { return "queue" }

// Publish sends the encoded artifact on the job's completion subject. The
// subject doubles as the message ID, so a repeated publish is deduplicated.
func (s *QueueSink) Publish(ctx context.Context, key jobkey.Key, artifact []byte) error {
	subject := broker.CompletionSubject(s.topic, key.String())
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(artifact)))
	base64.StdEncoding.Encode(encoded, artifact)
	return s.pub.Publish(ctx, broker.Record{
		Subject: subject,
		Key:     key.String(),
		Value:   encoded,
		MsgID:   subject,
	})
}

// Fail publishes a failure marker on the completion subject plus ".failed".
func (s *QueueSink) Fail(ctx context.Context, key jobkey.Key, f Failure) error {
	data, err := encodeFailure(f)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode failure marker").Build()
	}
	subject := broker.CompletionSubject(s.topic, key.String()) + failureSuffix
	return s.pub.Publish(ctx, broker.Record{Subject: subject, Key: key.String(), Value: data, MsgID: subject})
}

// QueueSource reads the completion message for a key and removes it.
type QueueSource struct {
	mailbox broker.Mailbox
	topic   string
}

// NewQueueSource reads completion subjects under completionTopic from mailbox.
func NewQueueSource(mailbox broker.Mailbox, completionTopic string) *QueueSource {
	return &QueueSource{mailbox: mailbox, topic: completionTopic}
}

// Fetch takes the completion message for key, or its failure marker.
func (s *QueueSource) Fetch(ctx context.Context, key jobkey.Key) ([]byte, error) {
	subject := broker.CompletionSubject(s.topic, key.String())
	data, err := s.take(ctx, subject)
	if stderrors.Is(err, broker.ErrNoMessage) {
		marker, ferr := s.take(ctx, subject+failureSuffix)
		if stderrors.Is(ferr, broker.ErrNoMessage) {
			return nil, ErrNotReady
		}
		if ferr != nil {
			return nil, ferr
		}
		return nil, decodeFailure(key, marker)
	}
	if err != nil {
		return nil, err
	}
	artifact, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, "completion message is not valid base64").
			WithContext("subject", subject).
			Build()
	}
	return artifact, nil
}

// take reads the newest message on subject and removes it; only the reader
// whose removal succeeds gets the data.
func (s *QueueSource) take(ctx context.Context, subject string) ([]byte, error) {
	msg, err := s.mailbox.Last(ctx, subject)
	if err != nil {
		return nil, err
	}
	if err := s.mailbox.Remove(ctx, subject, msg.Sequence); err != nil {
		return nil, err
	}
	return msg.Value, nil
}
