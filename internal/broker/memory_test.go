package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_WorkQueueDelivery(t *testing.T) {
	ctx := context.Background()
	b := NewMemory("build")
	cons, err := b.Consumer(ctx)
	require.NoError(t, err)
	defer func() { _ = cons.Close() }()

	require.NoError(t, b.Publish(ctx, Record{Subject: "build", Value: []byte("key-1")}))

	msg, err := cons.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-1", string(msg.Value()))
	assert.EqualValues(t, 1, msg.Delivery())
	require.NoError(t, msg.Ack())

	acked, naked := b.Stats()
	assert.Equal(t, 1, acked)
	assert.Equal(t, 0, naked)
}

func TestMemory_NakRedelivers(t *testing.T) {
	ctx := context.Background()
	b := NewMemory("build")
	cons, err := b.Consumer(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, Record{Subject: "build", Value: []byte("key-1")}))
	msg, err := cons.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Nak(10*time.Millisecond))

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	again, err := cons.Next(ctx2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, again.Delivery())
	assert.Equal(t, "key-1", string(again.Value()))
}

func TestMemory_NextHonoursContextAndClose(t *testing.T) {
	b := NewMemory("build")
	cons, err := b.Consumer(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cons.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, cons.Close())
	require.NoError(t, cons.Close())
	_, err = cons.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemory_MailboxConsumeOnce(t *testing.T) {
	ctx := context.Background()
	b := NewMemory("build")
	subj := CompletionSubject("build-complete", "k1")
	assert.Equal(t, "build-complete.k1", subj)

	_, err := b.Last(ctx, subj)
	require.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, b.Publish(ctx, Record{Subject: subj, Key: "k1", Value: []byte("QUJD")}))
	got, err := b.Last(ctx, subj)
	require.NoError(t, err)
	assert.Equal(t, "k1", got.Key)
	assert.Equal(t, "QUJD", string(got.Value))

	require.NoError(t, b.Remove(ctx, subj, got.Sequence))
	require.ErrorIs(t, b.Remove(ctx, subj, got.Sequence), ErrNoMessage)
	_, err = b.Last(ctx, subj)
	require.ErrorIs(t, err, ErrNoMessage)
}

var (
	_ Publisher = (*Memory)(nil)
	_ Mailbox   = (*Memory)(nil)
	_ Publisher = (*JetStream)(nil)
	_ Mailbox   = (*JetStream)(nil)
)
