package objectstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/natsconn"
)

// claimTTL bounds how long a claim marker outlives its object. Keys are
// never reused, so it only has to outlast the object itself.
const claimTTL = 24 * time.Hour

// JetStreamStore implements Store on a JetStream object store bucket. Claims
// live in a companion key-value bucket named "<bucket>-claims".
type JetStreamStore struct {
	conn   *natsconn.Conn
	owned  bool
	bucket string

	mu     sync.Mutex
	obs    jetstream.ObjectStore
	claims jetstream.KeyValue
}

// Open connects to the store configured in cfg.
func Open(cfg config.StoreConfig) (*JetStreamStore, error) {
	conn, err := natsconn.Connect(natsconn.Options{
		URL:      cfg.URL,
		Name:     "buildrelay-store",
		Username: cfg.Username,
		Password: cfg.Password,
		Token:    cfg.Token,
	})
	if err != nil {
		return nil, err
	}
	s := NewJetStreamStore(conn, cfg.Bucket)
	s.owned = true
	return s, nil
}

// NewJetStreamStore wraps an existing connection. The caller keeps ownership of conn.
func NewJetStreamStore(conn *natsconn.Conn, bucket string) *JetStreamStore {
	return &JetStreamStore{conn: conn, bucket: bucket}
}

// EnsureBucket looks the bucket up and creates it on first use.
func (s *JetStreamStore) EnsureBucket(ctx context.Context) error {
	_, err := s.handle(ctx, true)
	return err
}

func (s *JetStreamStore) handle(ctx context.Context, create bool) (jetstream.ObjectStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obs != nil {
		return s.obs, nil
	}

	obs, err := s.conn.JS.ObjectStore(ctx, s.bucket)
	if stderrors.Is(err, jetstream.ErrBucketNotFound) && create {
		obs, err = s.conn.JS.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      s.bucket,
			Description: "buildrelay payloads and results",
		})
		if stderrors.Is(err, jetstream.ErrBucketExists) {
			// Another submitter won the race.
			obs, err = s.conn.JS.ObjectStore(ctx, s.bucket)
		} else if err == nil {
			slog.Info("Created object store bucket", logfields.Bucket(s.bucket))
		}
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStorage, "failed to open bucket").
			WithContext("bucket", s.bucket).
			Retryable().
			Build()
	}
	s.obs = obs
	return obs, nil
}

// Put uploads r under name with meta as object metadata.
func (s *JetStreamStore) Put(ctx context.Context, name string, r io.Reader, meta map[string]string) error {
	obs, err := s.handle(ctx, false)
	if err != nil {
		return err
	}
	info, err := obs.Put(ctx, jetstream.ObjectMeta{Name: name, Metadata: meta}, r)
	if err != nil {
		return s.storageErr(err, "failed to upload object", name)
	}
	slog.Debug("Uploaded object", logfields.Bucket(s.bucket), logfields.Object(name), logfields.Bytes(int64(info.Size)))
	return nil
}

// Get returns the object contents.
func (s *JetStreamStore) Get(ctx context.Context, name string) ([]byte, error) {
	obs, err := s.handle(ctx, false)
	if err != nil {
		return nil, err
	}
	data, err := obs.GetBytes(ctx, name)
	if err != nil {
		return nil, s.storageErr(err, "failed to download object", name)
	}
	return data, nil
}

// Download streams the object to path, creating or truncating the file.
func (s *JetStreamStore) Download(ctx context.Context, name, path string) (int64, error) {
	obs, err := s.handle(ctx, false)
	if err != nil {
		return 0, err
	}
	res, err := obs.Get(ctx, name)
	if err != nil {
		return 0, s.storageErr(err, "failed to download object", name)
	}
	defer func() { _ = res.Close() }()

	// #nosec G304 -- path is inside the worker's private scratch directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, errors.WrapError(err, errors.CategoryFileSystem, "failed to create download target").
			WithContext("path", path).
			Build()
	}
	n, copyErr := io.Copy(f, res)
	closeErr := f.Close()
	if copyErr != nil {
		return n, s.storageErr(copyErr, "failed to stream object", name)
	}
	if closeErr != nil {
		return n, errors.WrapError(closeErr, errors.CategoryFileSystem, "failed to flush download target").Build()
	}
	return n, nil
}

// Exists reports whether a live object is stored under name.
func (s *JetStreamStore) Exists(ctx context.Context, name string) (bool, error) {
	obs, err := s.handle(ctx, false)
	if err != nil {
		return false, err
	}
	_, err = obs.GetInfo(ctx, name)
	if stderrors.Is(err, jetstream.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.storageErr(err, "failed to stat object", name)
	}
	return true, nil
}

// Delete removes name. The object store itself accepts deleting an object
// that is already deleted, so the live object is looked up first; two
// concurrent deletes can still both succeed. Callers needing exactly one
// winner use Claim.
func (s *JetStreamStore) Delete(ctx context.Context, name string) error {
	obs, err := s.handle(ctx, false)
	if err != nil {
		return err
	}
	if _, err := obs.GetInfo(ctx, name); err != nil {
		return s.storageErr(err, "failed to delete object", name)
	}
	if err := obs.Delete(ctx, name); err != nil {
		return s.storageErr(err, "failed to delete object", name)
	}
	return nil
}

// Claim creates a marker for name in the claims bucket. KeyValue.Create is
// atomic on the server, so only the first caller succeeds.
func (s *JetStreamStore) Claim(ctx context.Context, name string) error {
	kv, err := s.claimBucket(ctx)
	if err != nil {
		return err
	}
	if _, err := kv.Create(ctx, name, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("claim %s/%s: %w", s.bucket, name, ErrClaimed)
		}
		return s.storageErr(err, "failed to claim object", name)
	}
	return nil
}

func (s *JetStreamStore) claimBucket(ctx context.Context) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims != nil {
		return s.claims, nil
	}
	bucket := s.bucket + "-claims"
	kv, err := s.conn.JS.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "buildrelay result claims",
		History:     1,
		TTL:         claimTTL,
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStorage, "failed to open claims bucket").
			WithContext("bucket", bucket).
			Retryable().
			Build()
	}
	s.claims = kv
	return kv, nil
}

// Close releases the connection when the store opened it.
func (s *JetStreamStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Close()
}

func (s *JetStreamStore) storageErr(err error, msg, name string) error {
	if stderrors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("%s %s/%s: %w", msg, s.bucket, name, ErrNotFound)
	}
	return errors.WrapError(err, errors.CategoryStorage, msg).
		WithContext("bucket", s.bucket).
		WithContext("object", name).
		Retryable().
		Build()
}
