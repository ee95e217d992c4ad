package commands

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/result"
	"git.home.luguber.info/inful/buildrelay/internal/submit"
)

// FetchCmd implements the 'fetch' command.
type FetchCmd struct {
	Key    string `arg:"" help:"Correlation key printed by submit"`
	Wait   bool   `short:"w" help:"Poll until the result arrives or submit.timeout elapses"`
	Output string `short:"o" help:"Where to write the artifact (default <key>.<result_suffix>)"`
}

func (f *FetchCmd) Run(g *Global, root *CLI) error {
	key, err := jobkey.Parse(f.Key)
	if err != nil {
		return errors.ValidationError("invalid correlation key").
			WithContext("correlation_key", f.Key).
			WithCause(err).
			Build()
	}
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}

	ctx := context.Background()
	be, err := connect(ctx, cfg, "buildrelay-fetch")
	if err != nil {
		return err
	}
	defer be.Close()

	sub := submit.New(cfg, be.store, be.broker, result.NewSource(cfg, be.store, be.broker))
	return RunFetch(ctx, g.out(), sub, key, f.Wait, f.Output, cfg.Store.ResultSuffix)
}

// RunFetch retrieves and consumes the result for key, once or by polling.
func RunFetch(ctx context.Context, out io.Writer, sub *submit.Submitter, key jobkey.Key, wait bool, output, suffix string) error {
	var (
		data []byte
		err  error
	)
	if wait {
		data, err = sub.Await(ctx, key)
	} else {
		data, err = sub.Fetch(ctx, key)
	}
	if stderrors.Is(err, result.ErrNotReady) {
		return errors.NotFoundError("result not available yet").
			WithContext("correlation_key", key.String()).
			Warning().
			Build()
	}
	if err != nil {
		return err
	}

	dest, err := writeArtifact(key, data, output, suffix)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s (%d bytes)\n", dest, len(data))
	return nil
}
