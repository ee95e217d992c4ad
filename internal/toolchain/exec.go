package toolchain

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// Exec invokes a binary found on PATH in the manifest's directory.
type Exec struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// NewExec builds an Exec from configuration.
func NewExec(cfg config.ToolchainConfig) *Exec {
	return &Exec{Command: cfg.Command, Args: cfg.Args, Timeout: cfg.Timeout}
}

// Arguments expands the placeholder; without one the manifest is appended.
func (e *Exec) Arguments(manifestPath string) []string {
	args := make([]string, 0, len(e.Args)+1)
	replaced := false
	for _, a := range e.Args {
		if strings.Contains(a, ManifestPlaceholder) {
			a = strings.ReplaceAll(a, ManifestPlaceholder, manifestPath)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, manifestPath)
	}
	return args
}

func (e *Exec) Build(ctx context.Context, manifestPath string) (*Result, error) {
	bin, err := exec.LookPath(e.Command)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryRuntime, "toolchain binary not found").
			WithContext("command", e.Command).
			Build()
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := e.Arguments(manifestPath)
	// #nosec G204 -- command and arguments come from operator configuration
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = filepath.Dir(manifestPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 5 * time.Second

	slog.Debug("Invoking toolchain", "command", bin, "args", args, logfields.Manifest(manifestPath))
	start := time.Now()
	runErr := cmd.Run()
	res := &Result{Output: out.String(), Duration: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.ExitCode = 0
	case ctx.Err() != nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.TimedOut = true
	case stderrors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case ctx.Err() != nil:
		return res, ctx.Err()
	default:
		return res, errors.WrapError(runErr, errors.CategoryRuntime, "failed to run toolchain").
			WithContext("command", bin).
			Build()
	}

	if res.Output != "" {
		slog.Debug("Toolchain output", "output", res.Output)
	}
	return res, nil
}
