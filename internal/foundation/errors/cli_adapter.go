package errors

import (
	"context"
	"fmt"
	"log/slog"
)

// Exit codes returned by the buildrelay binary.
const (
	ExitOK       = 0
	ExitUnknown  = 1
	ExitUsage    = 2
	ExitNotFound = 4
	ExitConfig   = 7
	ExitUpstream = 8
	ExitTimeout  = 9
	ExitInternal = 10
	ExitBuild    = 11
	ExitRuntime  = 12
)

var exitByCategory = map[ErrorCategory]int{
	CategoryValidation: ExitUsage,
	CategoryArchive:    ExitUsage,
	CategoryNotFound:   ExitNotFound,
	CategoryGone:       ExitNotFound,
	CategoryConfig:     ExitConfig,
	CategoryStorage:    ExitUpstream,
	CategoryTransport:  ExitUpstream,
	CategoryTimeout:    ExitTimeout,
	CategoryInternal:   ExitInternal,
	CategoryBuild:      ExitBuild,
	CategoryPipeline:   ExitBuild,
	CategoryFileSystem: ExitBuild,
	CategoryRuntime:    ExitRuntime,
}

// CLIErrorAdapter renders command errors on stderr and picks the exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger}
}

// ExitCodeFor maps err to a process exit code. Unclassified errors exit 1.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	classified, ok := AsClassified(err)
	if !ok {
		return ExitUnknown
	}
	if code, ok := exitByCategory[classified.category]; ok {
		return code
	}
	return ExitUnknown
}

// FormatError renders err for stderr. Verbose mode includes category and cause.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	classified, ok := AsClassified(err)
	switch {
	case !ok:
		return fmt.Sprintf("Error: %v", err)
	case a.verbose:
		return "Error: " + classified.Error()
	default:
		return "Error: " + classified.message
	}
}

// Log records err with a level derived from its severity.
func (a *CLIErrorAdapter) Log(err error) {
	if err == nil {
		return
	}
	classified, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Command failed", slog.String("error", err.Error()))
		return
	}
	attrs := []slog.Attr{slog.String("category", string(classified.category))}
	for k, v := range classified.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	if classified.CanRetry() {
		attrs = append(attrs, slog.Bool("retryable", true))
	}
	if classified.cause != nil {
		attrs = append(attrs, slog.String("cause", classified.cause.Error()))
	}
	a.logger.LogAttrs(context.Background(), slogLevelFromSeverity(classified.severity), classified.message, attrs...)
}
