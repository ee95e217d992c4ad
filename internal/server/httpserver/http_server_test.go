package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	ferrors "git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/objectstore"
	"git.home.luguber.info/inful/buildrelay/internal/result"
	"git.home.luguber.info/inful/buildrelay/internal/server/responses"
	"git.home.luguber.info/inful/buildrelay/internal/submit"
)

type harness struct {
	cfg     *config.Config
	store   *objectstore.Memory
	broker  *broker.Memory
	tracker *jobstate.Memory
	sink    result.Sink
	ts      *httptest.Server
}

func newHarness(t *testing.T, mode config.SubmitMode) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Submit.Mode = mode
	cfg.Submit.Warmup = 0
	cfg.Submit.PollInterval = 10 * time.Millisecond
	cfg.Submit.Timeout = 2 * time.Second

	store := objectstore.NewMemory()
	b := broker.NewMemory(cfg.Broker.SubmitTopic)
	t.Cleanup(func() { _ = b.Close() })
	tracker := jobstate.NewMemory()
	sub := submit.New(cfg, store, b, result.NewSource(cfg, store, b))

	srv := New(cfg.HTTP, Options{
		Submitter: sub,
		Tracker:   tracker,
		Registry:  metrics.NewRegistry(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{cfg: cfg, store: store, broker: b, tracker: tracker, sink: result.NewSink(cfg, store, b), ts: ts}
}

// work drains the submit queue, publishing "built:<payload>" for each job.
func (h *harness) work(ctx context.Context, t *testing.T) {
	cons, err := h.broker.Consumer(ctx)
	require.NoError(t, err)
	go func() {
		for {
			msg, err := cons.Next(ctx)
			if err != nil {
				return
			}
			key := jobkey.Key(msg.Value())
			if payload, err := h.store.Get(ctx, key.PayloadObject()); err == nil {
				_ = h.store.Delete(ctx, key.PayloadObject())
				_ = h.sink.Publish(ctx, key, append([]byte("built:"), payload...))
			}
			_ = msg.Ack()
		}
	}()
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/zip", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAsyncSubmitThenRetrieveOnce(t *testing.T) {
	h := newHarness(t, config.SubmitModeAsync)

	resp := post(t, h.ts.URL+"/api/build", "payload")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[responses.SubmitResponse](t, resp)
	require.NotEmpty(t, sub.CorrelationKey)

	// nothing built yet
	resp = get(t, h.ts.URL+"/api/build/"+sub.CorrelationKey)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "pending", decode[responses.PendingResponse](t, resp).Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.work(ctx, t)

	var got responses.ResultResponse
	require.Eventually(t, func() bool {
		r, err := http.Get(h.ts.URL + "/api/build/" + sub.CorrelationKey)
		if err != nil {
			return false
		}
		defer func() { _ = r.Body.Close() }()
		if r.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(r.Body).Decode(&got) == nil
	}, 2*time.Second, 10*time.Millisecond)

	artifact, err := base64.StdEncoding.DecodeString(got.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "built:payload", string(artifact))

	// consumed by the first retrieval
	resp = get(t, h.ts.URL+"/api/build/"+sub.CorrelationKey)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSyncSubmitReturnsArtifact(t *testing.T) {
	h := newHarness(t, config.SubmitModeSync)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.work(ctx, t)

	resp := post(t, h.ts.URL+"/api/build?raw=1", "abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "built:abc", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-Key"))
}

func TestResult_InvalidKey(t *testing.T) {
	h := newHarness(t, config.SubmitModeAsync)
	resp := get(t, h.ts.URL+"/api/build/not-a-key")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResult_AbandonedJobReportsFailure(t *testing.T) {
	h := newHarness(t, config.SubmitModeAsync)
	key := jobkey.New()
	require.NoError(t, h.tracker.Put(context.Background(), jobstate.Record{
		Key:     key.String(),
		State:   jobstate.Cleaned,
		Outcome: jobstate.NoProjectFound,
	}))

	resp := get(t, h.ts.URL+"/api/build/"+key.String())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestResult_RetrievedResultIsGone(t *testing.T) {
	h := newHarness(t, config.SubmitModeAsync)
	ctx := context.Background()
	key := jobkey.New()
	require.NoError(t, h.sink.Publish(ctx, key, []byte("built")))
	require.NoError(t, h.tracker.Put(ctx, jobstate.Record{
		Key:     key.String(),
		State:   jobstate.Cleaned,
		Outcome: jobstate.Published,
	}))

	resp := get(t, h.ts.URL+"/api/build/"+key.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, h.ts.URL+"/api/build/"+key.String())
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	body := decode[ferrors.HTTPErrorResponse](t, resp)
	assert.Equal(t, "result already retrieved", body.Error)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, config.SubmitModeAsync)
	key := jobkey.New()

	resp := get(t, h.ts.URL+"/api/build/"+key.String()+"/status")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, h.tracker.Put(context.Background(), jobstate.Record{
		Key:      key.String(),
		State:    jobstate.Built,
		Delivery: 2,
		Manifest: "src/App.csproj",
	}))
	resp = get(t, h.ts.URL+"/api/build/"+key.String()+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[responses.StatusResponse](t, resp)
	assert.Equal(t, "built", st.State)
	assert.Equal(t, uint64(2), st.Delivery)
	assert.Equal(t, "src/App.csproj", st.Manifest)
	assert.False(t, st.Abandoned)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, config.SubmitModeAsync)

	resp := get(t, h.ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[responses.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "async", health.Mode)

	resp = get(t, h.ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, config.SubmitModeAsync)
	resp := get(t, h.ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	store := objectstore.NewMemory()
	b := broker.NewMemory(cfg.Broker.SubmitTopic)
	defer func() { _ = b.Close() }()
	srv := New(cfg.HTTP, Options{Submitter: submit.New(cfg, store, b, result.NewSource(cfg, store, b))})

	require.NoError(t, srv.Start(context.Background()))
	resp := get(t, "http://"+srv.Addr()+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}
