package result

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/objectstore"
)

// StoreSink uploads artifacts to the object store. When a publisher is set it
// also announces the object name on the completion topic.
type StoreSink struct {
	store  objectstore.Store
	suffix string
	pub    broker.Publisher
	topic  string
}

// NewStoreSink stores results as <key>.<suffix>. pub may be nil to skip the
// completion notice.
func NewStoreSink(store objectstore.Store, suffix string, pub broker.Publisher, completionTopic string) *StoreSink {
	return &StoreSink{store: store, suffix: suffix, pub: pub, topic: completionTopic}
}

// Kind names the sink in logs and metrics.
func (s *StoreSink) Kind() string { return "store" }

// Publish uploads the artifact. A failed completion notice is logged and
// does not fail the job.
func (s *StoreSink) Publish(ctx context.Context, key jobkey.Key, artifact []byte) error {
	name := key.ResultObject(s.suffix)
	if err := s.store.Put(ctx, name, bytes.NewReader(artifact), nil); err != nil {
		return err
	}
	if s.pub != nil {
		err := s.pub.Publish(ctx, broker.Record{
			Subject: broker.CompletionSubject(s.topic, key.String()),
			Key:     key.String(),
			Value:   []byte(name),
			MsgID:   name,
		})
		if err != nil {
			// The result is already durable in the store; the notice is informational.
			slog.Warn("Failed to announce stored result", logfields.CorrelationKey(key.String()), logfields.Error(err))
		}
	}
	return nil
}

// Fail uploads a failure marker next to where the result would have been.
func (s *StoreSink) Fail(ctx context.Context, key jobkey.Key, f Failure) error {
	data, err := encodeFailure(f)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode failure marker").Build()
	}
	return s.store.Put(ctx, key.FailureObject(s.suffix), bytes.NewReader(data), nil)
}

// StoreSource polls the object store for <key>.<suffix>.
type StoreSource struct {
	store  objectstore.Store
	suffix string
}

// NewStoreSource reads results named <key>.<suffix> from store.
func NewStoreSource(store objectstore.Store, suffix string) *StoreSource {
	return &StoreSource{store: store, suffix: suffix}
}

// Fetch downloads, claims and deletes the result. Only the reader whose
// claim succeeds gets the artifact; a lost claim counts as not ready.
func (s *StoreSource) Fetch(ctx context.Context, key jobkey.Key) ([]byte, error) {
	name := key.ResultObject(s.suffix)
	ok, err := s.store.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.checkFailure(ctx, key)
	}
	data, err := s.store.Get(ctx, name)
	if objectstore.IsNotFound(err) {
		return nil, ErrNotReady
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.Claim(ctx, name); err != nil {
		if stderrors.Is(err, objectstore.ErrClaimed) {
			return nil, ErrNotReady
		}
		return nil, err
	}
	// The claim is ours; a failed delete must not lose the artifact.
	if err := s.store.Delete(ctx, name); err != nil && !objectstore.IsNotFound(err) {
		slog.Warn("Failed to delete retrieved result", logfields.Object(name), logfields.Error(err))
	}
	return data, nil
}

func (s *StoreSource) checkFailure(ctx context.Context, key jobkey.Key) error {
	name := key.FailureObject(s.suffix)
	data, err := s.store.Get(ctx, name)
	if objectstore.IsNotFound(err) {
		return ErrNotReady
	}
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, name); err != nil && !objectstore.IsNotFound(err) {
		slog.Warn("Failed to delete failure marker", logfields.Object(name), logfields.Error(err))
	}
	return decodeFailure(key, data)
}
