package commands

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/objectstore"
)

// backends holds the NATS-backed collaborators of a process.
type backends struct {
	broker  *broker.JetStream
	store   objectstore.Store
	tracker jobstate.Tracker
}

// connect dials the broker, ensures its streams, and opens the store and the
// optional state ledger. The store shares the broker connection when both
// point at the same endpoint with the same credentials.
func connect(ctx context.Context, cfg *config.Config, client string) (*backends, error) {
	b, err := broker.Dial(cfg.Broker, client)
	if err != nil {
		return nil, err
	}
	be := &backends{broker: b, tracker: jobstate.Noop{}}

	if err := b.EnsureStreams(ctx); err != nil {
		be.Close()
		return nil, err
	}

	if sameEndpoint(cfg.Store, cfg.Broker) {
		be.store = objectstore.NewJetStreamStore(b.Conn(), cfg.Store.Bucket)
	} else {
		s, err := objectstore.Open(cfg.Store)
		if err != nil {
			be.Close()
			return nil, err
		}
		be.store = s
	}

	if cfg.State.Enabled {
		kv, err := jobstate.OpenKV(ctx, b.Conn().JS, cfg.State)
		if err != nil {
			be.Close()
			return nil, err
		}
		be.tracker = kv
	}
	return be, nil
}

// Close releases the store, then the broker connection.
func (be *backends) Close() {
	if be.store != nil {
		if err := be.store.Close(); err != nil {
			slog.Warn("Failed to close object store", logfields.Error(err))
		}
	}
	if err := be.broker.Close(); err != nil {
		slog.Warn("Failed to close broker", logfields.Error(err))
	}
}

func sameEndpoint(s config.StoreConfig, b config.BrokerConfig) bool {
	return s.URL == b.URL && s.Username == b.Username && s.Password == b.Password && s.Token == b.Token
}

// newRecorder returns a Prometheus-backed recorder when metrics are enabled.
func newRecorder(cfg config.MetricsConfig) (*prometheus.Registry, metrics.Recorder) {
	if !cfg.Enabled {
		return nil, metrics.NoopRecorder{}
	}
	reg := metrics.NewRegistry()
	return reg, metrics.NewPrometheusRecorder(reg)
}

// serveMetrics exposes reg on addr until the returned stop function is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", logfields.Error(err))
		}
	}()
	slog.Info("Metrics endpoint listening", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
