// Package jobstate records how far each job progressed through the worker
// pipeline. The ledger is advisory: it lets callers tell an abandoned job
// from one still building, and lets workers skip duplicate deliveries of a
// job that already reached a terminal outcome.
package jobstate

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"
)

// State is a pipeline state.
type State string

const (
	Received        State = "received"
	Downloaded      State = "downloaded"
	Extracted       State = "extracted"
	ProjectLocated  State = "project_located"
	Built           State = "built"
	ArtifactLocated State = "artifact_located"
	Published       State = "published"
	Cleaned         State = "cleaned"

	NoProjectFound  State = "no_project_found"
	NoArtifactFound State = "no_artifact_found"
	BuildFailed     State = "build_failed"
	// Errored marks a delivery that hit an error and was handed back or dropped.
	Errored State = "errored"
)

// Abandoned reports whether s ends the pipeline without a result.
func (s State) Abandoned() bool {
	switch s {
	case NoProjectFound, NoArtifactFound, BuildFailed:
		return true
	default:
		return false
	}
}

// ErrUnknown is returned by Get when no record exists for the key.
var ErrUnknown = stderrors.New("job state unknown")

// Record is the ledger entry for one job.
type Record struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Outcome   State     `json:"outcome,omitempty"` // terminal state reached before cleanup
	Delivery  uint64    `json:"delivery,omitempty"`
	Manifest  string    `json:"manifest,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Completed reports whether the job reached cleanup with a terminal outcome,
// either a published result or an abandonment. Errored deliveries are not
// completed: a later delivery may still succeed.
func (r *Record) Completed() bool {
	if r == nil || r.State != Cleaned {
		return false
	}
	return r.Outcome == Published || r.Outcome.Abandoned()
}

// Tracker stores ledger entries.
type Tracker interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, key string) (*Record, error)
}

func encode(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}

func decode(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Noop discards writes and never knows any job.
type Noop struct{}

func (Noop) Put(context.Context, Record) error            { return nil }
func (Noop) Get(context.Context, string) (*Record, error) { return nil, ErrUnknown }
