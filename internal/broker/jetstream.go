package broker

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/natsconn"
)

// JetStream implements Publisher and Mailbox over NATS JetStream and hands
// out consumers bound to the configured consumer group.
type JetStream struct {
	conn  *natsconn.Conn
	owned bool
	cfg   config.BrokerConfig
}

// Dial connects to the broker configured in cfg.
func Dial(cfg config.BrokerConfig, clientName string) (*JetStream, error) {
	conn, err := natsconn.Connect(natsconn.Options{
		URL:      cfg.URL,
		Name:     clientName,
		Username: cfg.Username,
		Password: cfg.Password,
		Token:    cfg.Token,
	})
	if err != nil {
		return nil, err
	}
	b := NewJetStream(conn, cfg)
	b.owned = true
	return b, nil
}

// NewJetStream wraps an existing connection. The caller keeps ownership of conn.
func NewJetStream(conn *natsconn.Conn, cfg config.BrokerConfig) *JetStream {
	return &JetStream{conn: conn, cfg: cfg}
}

// Conn returns the underlying connection so other JetStream clients can share it.
func (b *JetStream) Conn() *natsconn.Conn { return b.conn }

// EnsureStreams creates or updates the submission work queue and the
// completion stream.
func (b *JetStream) EnsureStreams(ctx context.Context) error {
	if _, err := b.conn.JS.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        b.cfg.SubmitStream,
		Description: "buildrelay job submissions",
		Subjects:    []string{b.cfg.SubmitTopic},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
	}); err != nil {
		return errors.WrapError(err, errors.CategoryTransport, "failed to ensure submission stream").
			WithContext("stream", b.cfg.SubmitStream).
			Retryable().
			Build()
	}
	if _, err := b.conn.JS.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        b.cfg.CompletionStream,
		Description: "buildrelay completed builds",
		Subjects:    []string{b.cfg.CompletionTopic + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      b.cfg.CompletionMaxAge,
	}); err != nil {
		return errors.WrapError(err, errors.CategoryTransport, "failed to ensure completion stream").
			WithContext("stream", b.cfg.CompletionStream).
			Retryable().
			Build()
	}
	return nil
}

// Publish sends rec and waits for the stream ack, bounded by the flush timeout.
func (b *JetStream) Publish(ctx context.Context, rec Record) error {
	if b.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.FlushTimeout)
		defer cancel()
	}
	msg := nats.NewMsg(rec.Subject)
	msg.Data = rec.Value
	if rec.Key != "" {
		msg.Header.Set(HeaderCorrelationKey, rec.Key)
	}
	var opts []jetstream.PublishOpt
	if rec.MsgID != "" {
		opts = append(opts, jetstream.WithMsgID(rec.MsgID))
	}
	if _, err := b.conn.JS.PublishMsg(ctx, msg, opts...); err != nil {
		msgText := "failed to publish message"
		if stderrors.Is(err, context.DeadlineExceeded) {
			msgText = "publish not acknowledged within flush timeout"
		}
		return errors.WrapError(err, errors.CategoryTransport, msgText).
			WithContext("subject", rec.Subject).
			Retryable().
			Build()
	}
	slog.Debug("Published message", logfields.Topic(rec.Subject), logfields.Bytes(int64(len(rec.Value))))
	return nil
}

// Consumer binds to the durable consumer group on the submission stream.
func (b *JetStream) Consumer(ctx context.Context) (Consumer, error) {
	cons, err := b.conn.JS.CreateOrUpdateConsumer(ctx, b.cfg.SubmitStream, jetstream.ConsumerConfig{
		Durable:       b.cfg.ConsumerGroup,
		FilterSubject: b.cfg.SubmitTopic,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    b.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryTransport, "failed to bind consumer group").
			WithContext("group", b.cfg.ConsumerGroup).
			Retryable().
			Build()
	}
	return &jsConsumer{cons: cons}, nil
}

// Last returns the newest message on subject.
func (b *JetStream) Last(ctx context.Context, subject string) (*Stored, error) {
	stream, err := b.completionStream(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := stream.GetLastMsgForSubject(ctx, subject)
	if stderrors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, ErrNoMessage
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryTransport, "failed to read completion message").
			WithContext("subject", subject).
			Retryable().
			Build()
	}
	return &Stored{
		Subject:  raw.Subject,
		Sequence: raw.Sequence,
		Key:      raw.Header.Get(HeaderCorrelationKey),
		Value:    raw.Data,
		Time:     raw.Time,
	}, nil
}

// Remove deletes a completion message by sequence.
func (b *JetStream) Remove(ctx context.Context, subject string, seq uint64) error {
	stream, err := b.completionStream(ctx)
	if err != nil {
		return err
	}
	if err := stream.DeleteMsg(ctx, seq); err != nil {
		if stderrors.Is(err, jetstream.ErrMsgNotFound) {
			return ErrNoMessage
		}
		return errors.WrapError(err, errors.CategoryTransport, "failed to delete completion message").
			WithContext("subject", subject).
			Retryable().
			Build()
	}
	return nil
}

func (b *JetStream) completionStream(ctx context.Context) (jetstream.Stream, error) {
	stream, err := b.conn.JS.Stream(ctx, b.cfg.CompletionStream)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryTransport, "failed to open completion stream").
			WithContext("stream", b.cfg.CompletionStream).
			Retryable().
			Build()
	}
	return stream, nil
}

// Close releases the connection when the broker dialed it.
func (b *JetStream) Close() error {
	if !b.owned {
		return nil
	}
	return b.conn.Close()
}

// jsConsumer pulls one message per request, so no job sits in a client
// buffer with its ack clock running while another job is being built.
type jsConsumer struct {
	cons   jetstream.Consumer
	closed atomic.Bool
}

func (c *jsConsumer) Next(ctx context.Context) (Message, error) {
	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := c.cons.Next(jetstream.FetchContext(ctx))
		switch {
		case err == nil:
			return &jsMessage{msg: msg}, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case stderrors.Is(err, nats.ErrTimeout), stderrors.Is(err, jetstream.ErrNoMessages):
			// Pull request expired without a job; ask again.
			continue
		default:
			return nil, errors.WrapError(err, errors.CategoryTransport, "failed to consume message").
				Retryable().
				Build()
		}
	}
}

// Close stops pulling once the pull request in flight expires.
func (c *jsConsumer) Close() error {
	c.closed.Store(true)
	return nil
}

type jsMessage struct {
	msg jetstream.Msg
}

func (m *jsMessage) Subject() string { return m.msg.Subject() }
func (m *jsMessage) Value() []byte   { return m.msg.Data() }

func (m *jsMessage) Delivery() uint64 {
	md, err := m.msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

func (m *jsMessage) Ack() error {
	return m.msg.Ack()
}

func (m *jsMessage) InProgress() error {
	return m.msg.InProgress()
}

func (m *jsMessage) Nak(delay time.Duration) error {
	if delay <= 0 {
		return m.msg.Nak()
	}
	return m.msg.NakWithDelay(delay)
}
