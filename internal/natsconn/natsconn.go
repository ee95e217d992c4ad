// Package natsconn dials NATS and hands out a JetStream context shared by the
// object store, the broker and the state ledger.
package natsconn

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// Options describes how to reach a NATS server.
type Options struct {
	URL      string
	Name     string // client name reported to the server
	Username string
	Password string
	Token    string
	Timeout  time.Duration
}

// Conn bundles a NATS connection with its JetStream context.
type Conn struct {
	NC *nats.Conn
	JS jetstream.JetStream
}

// Connect dials the server and creates the JetStream context. Reconnects are
// unbounded; disconnects and reconnects are logged.
func Connect(opts Options) (*Conn, error) {
	if opts.URL == "" {
		return nil, errors.ConfigError("nats url is required").Build()
	}
	natsOpts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "url", opts.URL, logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}
	if opts.Timeout > 0 {
		natsOpts = append(natsOpts, nats.Timeout(opts.Timeout))
	}
	switch {
	case opts.Token != "":
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	case opts.Username != "":
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryTransport, "failed to connect to NATS").
			WithContext("url", opts.URL).
			Retryable().
			Build()
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.WrapError(err, errors.CategoryTransport, "failed to create JetStream context").Build()
	}
	slog.Debug("NATS connection established", "url", opts.URL, "client", opts.Name)
	return &Conn{NC: nc, JS: js}, nil
}

// Close drains the connection, flushing pending publishes, and falls back to a hard close.
func (c *Conn) Close() error {
	if c == nil || c.NC == nil {
		return nil
	}
	if err := c.NC.Drain(); err != nil {
		c.NC.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
