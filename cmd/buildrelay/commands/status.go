package commands

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	Key string `arg:"" help:"Correlation key printed by submit"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	key, err := jobkey.Parse(s.Key)
	if err != nil {
		return errors.ValidationError("invalid correlation key").
			WithContext("correlation_key", s.Key).
			WithCause(err).
			Build()
	}
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	if !cfg.State.Enabled {
		return errors.ConfigError("job state ledger is disabled (state.enabled)").Build()
	}

	ctx := context.Background()
	be, err := connect(ctx, cfg, "buildrelay-status")
	if err != nil {
		return err
	}
	defer be.Close()

	return RunStatus(ctx, g.out(), be.tracker, key)
}

// RunStatus prints the ledger entry for key as indented JSON.
func RunStatus(ctx context.Context, out io.Writer, tracker jobstate.Tracker, key jobkey.Key) error {
	rec, err := tracker.Get(ctx, key.String())
	if stderrors.Is(err, jobstate.ErrUnknown) {
		return errors.NotFoundError("no state recorded for job").
			WithContext("correlation_key", key.String()).
			Build()
	}
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode job state").Build()
	}
	_, _ = fmt.Fprintln(out, string(b))
	return nil
}
