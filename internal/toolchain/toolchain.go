// Package toolchain runs the external build against a located manifest.
//
// The Toolchain interface lets tests and alternative compilers replace the
// subprocess. The exit status is reported, not interpreted: the worker's
// build_failure policy decides what a non-zero exit means.
package toolchain

import (
	"context"
	"time"
)

// ManifestPlaceholder is replaced by the manifest path in configured arguments.
const ManifestPlaceholder = "{manifest}"

// Result describes one toolchain invocation.
type Result struct {
	ExitCode int
	Output   string // combined stdout and stderr
	Duration time.Duration
	TimedOut bool
}

// Succeeded reports a zero exit within the time limit.
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// Toolchain builds the project described by manifestPath. An error means the
// build could not be run at all; a failed build is a Result with a non-zero ExitCode.
type Toolchain interface {
	Build(ctx context.Context, manifestPath string) (*Result, error)
}
