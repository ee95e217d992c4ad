// Package result moves a finished artifact from the worker back to the caller.
//
// A Sink publishes, a Source retrieves. Two strategies exist behind the same
// pair of interfaces: the store strategy uploads the artifact as
// <key>.<suffix>, the queue strategy embeds it base64-encoded in a message on
// <completion_topic>.<key>. Retrieval consumes the result; a second Fetch for
// the same key reports ErrNotReady.
package result

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
)

var (
	// ErrNotReady means no result (and no failure marker) exists for the key yet.
	ErrNotReady = stderrors.New("result not ready")
	// ErrBuildFailed is matched by errors.Is for a *FailedError.
	ErrBuildFailed = stderrors.New("build failed")
)

// Failure describes why a job ended without an artifact.
type Failure struct {
	State    string `json:"state"`
	Reason   string `json:"reason"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Output   string `json:"output,omitempty"`
}

// FailedError is returned by Fetch when the worker left a failure marker.
type FailedError struct {
	Key     jobkey.Key
	Failure Failure
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("build %s ended in %s: %s", e.Key, e.Failure.State, e.Failure.Reason)
}

func (e *FailedError) Is(target error) bool { return target == ErrBuildFailed }

// Sink publishes results and failure markers.
type Sink interface {
	Publish(ctx context.Context, key jobkey.Key, artifact []byte) error
	Fail(ctx context.Context, key jobkey.Key, f Failure) error
	Kind() string
}

// Source retrieves and consumes results.
type Source interface {
	Fetch(ctx context.Context, key jobkey.Key) ([]byte, error)
}

// maxFailureOutput bounds the diagnostics kept in a failure marker.
const maxFailureOutput = 16 << 10

func encodeFailure(f Failure) ([]byte, error) {
	if len(f.Output) > maxFailureOutput {
		f.Output = f.Output[len(f.Output)-maxFailureOutput:]
	}
	return json.Marshal(f)
}

func decodeFailure(key jobkey.Key, data []byte) error {
	var f Failure
	if err := json.Unmarshal(data, &f); err != nil {
		f = Failure{State: "unknown", Reason: "unreadable failure marker"}
	}
	return &FailedError{Key: key, Failure: f}
}
