package worker

import (
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
	"git.home.luguber.info/inful/buildrelay/internal/toolchain"
	"git.home.luguber.info/inful/buildrelay/internal/workspace"
)

// Outcome is how a delivery ended. State is one of Published, NoProjectFound,
// NoArtifactFound or BuildFailed; errors are returned separately.
type Outcome struct {
	Key      jobkey.Key
	State    jobstate.State
	Manifest string // slash-separated, relative to the extracted tree
	Artifact string
	Build    *toolchain.Result
	Size     int

	// Duplicate is set when the ledger showed the job already finished and
	// nothing was run.
	Duplicate bool
}

// jobContext carries one delivery through the pipeline together with every
// resource it owns.
type jobContext struct {
	key      jobkey.Key
	delivery uint64
	final    bool // no further redelivery will happen
	started  time.Time

	ws     *workspace.WorkingSet
	state  jobstate.State
	record jobstate.Record
	out    Outcome
}

func newJobContext(key jobkey.Key, delivery uint64, final bool) *jobContext {
	return &jobContext{
		key:      key,
		delivery: delivery,
		final:    final,
		started:  time.Now(),
		record:   jobstate.Record{Key: key.String(), Delivery: delivery},
		out:      Outcome{Key: key},
	}
}
