package jobstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Abandoned(t *testing.T) {
	for _, s := range []State{NoProjectFound, NoArtifactFound, BuildFailed} {
		assert.True(t, s.Abandoned(), s)
	}
	for _, s := range []State{Received, Built, Published, Cleaned, Errored} {
		assert.False(t, s.Abandoned(), s)
	}
}

func TestRecord_Completed(t *testing.T) {
	var nilRec *Record
	assert.False(t, nilRec.Completed())
	assert.False(t, (&Record{State: Published}).Completed())
	assert.True(t, (&Record{State: Cleaned, Outcome: Published}).Completed())
	assert.True(t, (&Record{State: Cleaned, Outcome: NoProjectFound}).Completed())
	assert.True(t, (&Record{State: Cleaned, Outcome: NoArtifactFound}).Completed())
	assert.True(t, (&Record{State: Cleaned, Outcome: BuildFailed}).Completed())
	assert.False(t, (&Record{State: Cleaned, Outcome: Errored}).Completed())
	assert.False(t, (&Record{State: NoProjectFound}).Completed())
}

func TestMemory_PutGetHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrUnknown)

	require.NoError(t, m.Put(ctx, Record{Key: "k", State: Received}))
	require.NoError(t, m.Put(ctx, Record{Key: "k", State: Downloaded}))

	rec, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Downloaded, rec.State)
	assert.False(t, rec.UpdatedAt.IsZero())
	assert.Equal(t, []State{Received, Downloaded}, m.History("k"))
}

func TestCodecRoundTrip(t *testing.T) {
	code := 3
	data, err := encode(Record{Key: "k", State: Cleaned, Outcome: BuildFailed, ExitCode: &code})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outcome":"build_failed"`)

	rec, err := decode(data)
	require.NoError(t, err)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 3, *rec.ExitCode)
}

func TestNoop(t *testing.T) {
	var tr Tracker = Noop{}
	require.NoError(t, tr.Put(context.Background(), Record{Key: "k"}))
	_, err := tr.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrUnknown)
}

var (
	_ Tracker = (*Memory)(nil)
	_ Tracker = (*KV)(nil)
)
