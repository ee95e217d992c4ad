package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/result"
	"git.home.luguber.info/inful/buildrelay/internal/submit"
)

// SubmitCmd implements the 'submit' command.
type SubmitCmd struct {
	File   string `arg:"" help:"Zipped project to build" type:"existingfile"`
	Sync   bool   `help:"Wait for the artifact regardless of submit.mode" xor:"mode"`
	Async  bool   `help:"Return right after enqueueing regardless of submit.mode" xor:"mode"`
	Output string `short:"o" help:"Where to write the artifact in sync mode (default <key>.<result_suffix>)"`
}

func (s *SubmitCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	switch {
	case s.Sync:
		cfg.Submit.Mode = config.SubmitModeSync
	case s.Async:
		cfg.Submit.Mode = config.SubmitModeAsync
	}

	ctx := context.Background()
	be, err := connect(ctx, cfg, "buildrelay-submit")
	if err != nil {
		return err
	}
	defer be.Close()

	sub := submit.New(cfg, be.store, be.broker, result.NewSource(cfg, be.store, be.broker))
	return RunSubmit(ctx, g.out(), sub, s.File, s.Output, cfg.Store.ResultSuffix)
}

// RunSubmit reads the zip at path and submits it. In async mode the key is
// printed; in sync mode the artifact is written to output and its path printed.
func RunSubmit(ctx context.Context, out io.Writer, sub *submit.Submitter, path, output, suffix string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to read payload").
			WithContext("path", path).
			Build()
	}

	if sub.Mode() != config.SubmitModeSync {
		key, err := sub.Submit(ctx, payload)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, key)
		return nil
	}

	key, data, err := sub.SubmitAndWait(ctx, payload)
	if err != nil {
		if key != "" {
			_, _ = fmt.Fprintf(out, "correlation key: %s\n", key)
		}
		return err
	}
	dest, err := writeArtifact(key, data, output, suffix)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s %s (%d bytes)\n", key, dest, len(data))
	return nil
}

func writeArtifact(key jobkey.Key, data []byte, output, suffix string) (string, error) {
	dest := output
	if dest == "" {
		dest = key.ResultObject(suffix)
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to create output directory").
				WithContext("path", dir).
				Build()
		}
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to write artifact").
			WithContext("path", dest).
			Build()
	}
	return dest, nil
}
