package jobstate

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// KV stores ledger entries in a JetStream key-value bucket.
type KV struct {
	kv jetstream.KeyValue
}

// OpenKV creates or binds the ledger bucket.
func OpenKV(ctx context.Context, js jetstream.JetStream, cfg config.StateConfig) (*KV, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "buildrelay job state ledger",
		History:     1,
		TTL:         cfg.TTL,
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStorage, "failed to open state bucket").
			WithContext("bucket", cfg.Bucket).
			Retryable().
			Build()
	}
	slog.Debug("Job state ledger ready", logfields.Bucket(cfg.Bucket))
	return &KV{kv: kv}, nil
}

func (k *KV) Put(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := encode(rec)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode job state").Build()
	}
	if _, err := k.kv.Put(ctx, rec.Key, data); err != nil {
		return errors.WrapError(err, errors.CategoryStorage, "failed to write job state").
			WithContext("key", rec.Key).
			Retryable().
			Build()
	}
	return nil
}

func (k *KV) Get(ctx context.Context, key string) (*Record, error) {
	entry, err := k.kv.Get(ctx, key)
	if stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStorage, "failed to read job state").
			WithContext("key", key).
			Retryable().
			Build()
	}
	rec, err := decode(entry.Value())
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, "corrupt job state entry").
			WithContext("key", key).
			Build()
	}
	return rec, nil
}
