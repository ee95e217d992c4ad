package submit

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	ferrors "git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/objectstore"
	"git.home.luguber.info/inful/buildrelay/internal/result"
)

type fixture struct {
	cfg    *config.Config
	store  *objectstore.Memory
	broker *broker.Memory
	sink   result.Sink
	sub    *Submitter
}

func newFixture(t *testing.T, sink config.SinkKind) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Worker.Sink = sink
	cfg.Submit.Warmup = 0
	cfg.Submit.PollInterval = 20 * time.Millisecond
	cfg.Submit.Timeout = 2 * time.Second
	store := objectstore.NewMemory()
	b := broker.NewMemory(cfg.Broker.SubmitTopic)
	t.Cleanup(func() { _ = b.Close() })
	return &fixture{
		cfg:    cfg,
		store:  store,
		broker: b,
		sink:   result.NewSink(cfg, store, b),
		sub:    New(cfg, store, b, result.NewSource(cfg, store, b)),
	}
}

// serve plays a worker: every queued key gets its payload echoed back, prefixed.
func (f *fixture) serve(ctx context.Context, t *testing.T) {
	cons, err := f.broker.Consumer(ctx)
	require.NoError(t, err)
	go func() {
		for {
			msg, err := cons.Next(ctx)
			if err != nil {
				return
			}
			key := jobkey.Key(msg.Value())
			payload, err := f.store.Get(ctx, key.PayloadObject())
			if err == nil {
				_ = f.store.Delete(ctx, key.PayloadObject())
				_ = f.sink.Publish(ctx, key, append([]byte("built:"), payload...))
			}
			_ = msg.Ack()
		}
	}()
}

func TestSubmit_RejectsEmptyPayload(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	_, err := f.sub.Submit(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	assert.Zero(t, f.broker.Pending())
}

func TestSubmit_StoresAndEnqueuesKey(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	ctx := context.Background()

	key, err := f.sub.Submit(ctx, []byte("PK\x03\x04 zip bytes"))
	require.NoError(t, err)
	_, err = jobkey.Parse(key.String())
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, key.PayloadObject())
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04 zip bytes", string(stored))
	assert.Equal(t, "public-read", f.store.Metadata(key.PayloadObject())[objectstore.MetaAccess])

	cons, err := f.broker.Consumer(ctx)
	require.NoError(t, err)
	msg, err := cons.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, key.String(), string(msg.Value()), "the descriptor carries only the key")
}

func TestSubmit_AccessTagOnlyOnPayload(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	f.cfg.Store.Access = "private"
	sub := New(f.cfg, f.store, f.broker, result.NewSource(f.cfg, f.store, f.broker))
	ctx := context.Background()

	key, err := sub.Submit(ctx, []byte("zip"))
	require.NoError(t, err)
	assert.Equal(t, "private", f.store.Metadata(key.PayloadObject())[objectstore.MetaAccess])

	require.NoError(t, f.sink.Publish(ctx, key, []byte("artifact")))
	assert.Empty(t, f.store.Metadata(key.ResultObject(f.cfg.Store.ResultSuffix))[objectstore.MetaAccess])
}

func TestSubmit_EnqueueFailureRemovesPayload(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	f.broker.PublishErr = stderrors.New("nats: timeout")

	_, err := f.sub.Submit(context.Background(), []byte("payload"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryTransport))
	assert.Empty(t, f.store.Names())
}

func TestAwait_TimesOutWithinOneInterval(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	f.sub.cfg.Timeout = 120 * time.Millisecond
	f.sub.cfg.PollInterval = 50 * time.Millisecond

	start := time.Now()
	_, err := f.sub.Await(context.Background(), jobkey.New())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryTimeout))
	assert.GreaterOrEqual(t, elapsed, 120*time.Millisecond, "must not give up before the deadline")
	assert.Less(t, elapsed, 120*time.Millisecond+50*time.Millisecond+100*time.Millisecond, "must not hang past deadline + interval")
}

func TestAwait_HonoursWarmup(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	f.sub.cfg.Warmup = 60 * time.Millisecond
	ctx := context.Background()
	key := jobkey.New()
	require.NoError(t, f.store.EnsureBucket(ctx))
	require.NoError(t, f.sink.Publish(ctx, key, []byte("ready")))

	start := time.Now()
	data, err := f.sub.Await(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ready", string(data))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestAwait_BuildFailureReturnsEarly(t *testing.T) {
	f := newFixture(t, config.SinkQueue)
	f.sub.cfg.Timeout = 5 * time.Second
	ctx := context.Background()
	key := jobkey.New()
	require.NoError(t, f.sink.Fail(ctx, key, result.Failure{State: "no_project_found", Reason: "no manifest"}))

	start := time.Now()
	_, err := f.sub.Await(ctx, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, result.ErrBuildFailed)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPipeline))
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetch_BuildFailedIsBuildCategory(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	ctx := context.Background()
	key := jobkey.New()
	require.NoError(t, f.store.EnsureBucket(ctx))
	code := 1
	require.NoError(t, f.sink.Fail(ctx, key, result.Failure{State: "build_failed", Reason: "exit 1", ExitCode: &code}))

	_, err := f.sub.Fetch(ctx, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, result.ErrBuildFailed)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryBuild))
}

func TestAwait_ContextCancel(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.sub.Await(ctx, jobkey.New())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitAndWait_ResultConsumedOnce(t *testing.T) {
	for _, sink := range []config.SinkKind{config.SinkStore, config.SinkQueue} {
		t.Run(string(sink), func(t *testing.T) {
			f := newFixture(t, sink)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.serve(ctx, t)

			key, data, err := f.sub.SubmitAndWait(ctx, []byte("source"))
			require.NoError(t, err)
			assert.Equal(t, "built:source", string(data))

			_, err = f.sub.Fetch(ctx, key)
			require.ErrorIs(t, err, result.ErrNotReady)
		})
	}
}

func TestSubmitAndWait_ConcurrentKeysStayIsolated(t *testing.T) {
	f := newFixture(t, config.SinkStore)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.serve(ctx, t)

	const n = 20
	var wg sync.WaitGroup
	keys := make([]jobkey.Key, n)
	outputs := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], outputs[i], errs[i] = f.sub.SubmitAndWait(ctx, []byte(fmt.Sprintf("job-%02d", i)))
		}(i)
	}
	wg.Wait()

	seen := map[jobkey.Key]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, bytes.Equal([]byte(fmt.Sprintf("built:job-%02d", i)), outputs[i]), "job %d got %q", i, outputs[i])
		assert.False(t, seen[keys[i]], "duplicate correlation key")
		seen[keys[i]] = true
	}
	assert.Empty(t, f.store.Names(), "all payloads and results consumed")
}
