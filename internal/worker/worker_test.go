package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	ferrors "git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/retry"
	"git.home.luguber.info/inful/buildrelay/internal/toolchain"
)

func fastRetry() retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, 5*time.Millisecond, 5*time.Millisecond)
}

func TestWorker_RunProcessesAndStopsOnCancel(t *testing.T) {
	tc := &toolchain.Static{Outputs: map[string][]byte{"App.dll.patched": []byte("built")}}
	h := newHarness(t, tc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cons, err := h.broker.Consumer(ctx)
	require.NoError(t, err)
	w := New(h.pipeline, cons, fastRetry())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	key := h.upload(t, map[string]string{"App.csproj": "<Project/>"})
	require.NoError(t, h.broker.Publish(ctx, broker.Record{Subject: h.cfg.Broker.SubmitTopic, Value: []byte(key.String())}))

	var got []byte
	require.Eventually(t, func() bool {
		data, ferr := h.source.Fetch(context.Background(), key)
		if ferr != nil {
			return false
		}
		got = data
		return true
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "built", string(got))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
	acked, naked := h.broker.Stats()
	assert.Equal(t, 1, acked)
	assert.Equal(t, 0, naked)
}

func TestWorker_SkipsDuplicateOfCompletedJob(t *testing.T) {
	tc := &toolchain.Static{Outputs: map[string][]byte{"App.dll.patched": []byte("built")}}
	h := newHarness(t, tc)
	ctx := context.Background()
	cons, err := h.broker.Consumer(ctx)
	require.NoError(t, err)
	w := New(h.pipeline, cons, fastRetry())

	key := h.upload(t, map[string]string{"App.csproj": "<Project/>"})
	for i := 0; i < 2; i++ {
		require.NoError(t, h.broker.Publish(ctx, broker.Record{Subject: h.cfg.Broker.SubmitTopic, Value: []byte(key.String())}))
		msg, err := cons.Next(ctx)
		require.NoError(t, err)
		w.Handle(ctx, msg)
	}

	assert.Len(t, tc.Calls(), 1, "the second delivery must not rebuild")
	acked, _ := h.broker.Stats()
	assert.Equal(t, 2, acked)

	got, err := h.source.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "built", string(got))
}

func TestWorker_SignalsProgressDuringLongBuild(t *testing.T) {
	tc := &toolchain.Static{
		Outputs: map[string][]byte{"App.dll.patched": []byte("built")},
		Delay:   80 * time.Millisecond,
	}
	h := newHarness(t, tc)
	ctx := context.Background()
	cons, err := h.broker.Consumer(ctx)
	require.NoError(t, err)
	w := New(h.pipeline, cons, fastRetry())
	w.heartbeat = 5 * time.Millisecond

	key := h.upload(t, map[string]string{"App.csproj": "<Project/>"})
	require.NoError(t, h.broker.Publish(ctx, broker.Record{Subject: h.cfg.Broker.SubmitTopic, Value: []byte(key.String())}))
	msg, err := cons.Next(ctx)
	require.NoError(t, err)
	w.Handle(ctx, msg)

	assert.GreaterOrEqual(t, h.broker.Heartbeats(), 1, "a long build must extend the ack deadline")
	beats := h.broker.Heartbeats()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, beats, h.broker.Heartbeats(), "heartbeats stop once the job is settled")
	acked, _ := h.broker.Stats()
	assert.Equal(t, 1, acked)
}

func TestWorker_DefaultHeartbeatFitsAckWait(t *testing.T) {
	h := newHarness(t, &toolchain.Static{})
	cons, err := h.broker.Consumer(context.Background())
	require.NoError(t, err)
	w := New(h.pipeline, cons, fastRetry())
	assert.Positive(t, w.heartbeat)
	assert.Less(t, w.heartbeat, h.cfg.Broker.AckWait)
}

func TestWorker_NaksRetryableFailures(t *testing.T) {
	tc := &toolchain.Static{Outputs: map[string][]byte{"App.dll.patched": []byte("built")}}
	h := newHarness(t, tc)
	ctx := context.Background()
	cons, err := h.broker.Consumer(ctx)
	require.NoError(t, err)
	w := New(h.pipeline, cons, fastRetry())

	key := h.upload(t, map[string]string{"App.csproj": "<Project/>"})
	h.store.PutErr = ferrors.StorageError("bucket offline").Build()
	require.NoError(t, h.broker.Publish(ctx, broker.Record{Subject: h.cfg.Broker.SubmitTopic, Value: []byte(key.String())}))

	msg, err := cons.Next(ctx)
	require.NoError(t, err)
	w.Handle(ctx, msg)
	_, naked := h.broker.Stats()
	assert.Equal(t, 1, naked)

	// the store recovers; the redelivery succeeds
	h.store.PutErr = nil
	next, err := cons.Next(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.Delivery())
	w.Handle(ctx, next)

	got, err := h.source.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "built", string(got))
}

func TestWorker_AcksMalformedDescriptor(t *testing.T) {
	h := newHarness(t, &toolchain.Static{})
	ctx := context.Background()
	cons, err := h.broker.Consumer(ctx)
	require.NoError(t, err)
	w := New(h.pipeline, cons, fastRetry())

	require.NoError(t, h.broker.Publish(ctx, broker.Record{Subject: h.cfg.Broker.SubmitTopic, Value: []byte("../../etc/passwd")}))
	msg, err := cons.Next(ctx)
	require.NoError(t, err)
	w.Handle(ctx, msg)

	acked, naked := h.broker.Stats()
	assert.Equal(t, 1, acked)
	assert.Equal(t, 0, naked)
	h.requireScratchEmpty(t)
}

// flakyConsumer fails a few times before delegating.
type flakyConsumer struct {
	broker.Consumer
	failures int
}

func (f *flakyConsumer) Next(ctx context.Context) (broker.Message, error) {
	if f.failures > 0 {
		f.failures--
		return nil, ferrors.TransportError("broker unreachable").Build()
	}
	return f.Consumer.Next(ctx)
}

func TestWorker_ConsumeErrorsDoNotStopTheLoop(t *testing.T) {
	tc := &toolchain.Static{Outputs: map[string][]byte{"App.dll.patched": []byte("ok")}}
	h := newHarness(t, tc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner, err := h.broker.Consumer(ctx)
	require.NoError(t, err)
	w := New(h.pipeline, &flakyConsumer{Consumer: inner, failures: 1}, fastRetry())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	key := h.upload(t, map[string]string{"App.csproj": "<Project/>"})
	require.NoError(t, h.broker.Publish(ctx, broker.Record{Subject: h.cfg.Broker.SubmitTopic, Value: []byte(key.String())}))

	require.Eventually(t, func() bool {
		_, ferr := h.source.Fetch(context.Background(), key)
		return ferr == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
